// Package prompts builds the text and image prompts for each pipeline step.
package prompts

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tkendall99/bedtime-solved/internal/domain"
)

const (
	StoryTemperature = 0.8
	StoryMaxTokens   = 1024
)

const baseStyle = `Style: Warm, friendly children's book illustration
Art direction: Soft watercolor meets digital art
Color palette: Bright, cheerful colors with warm undertones
Lighting: Soft, golden hour glow
Character rendering: Friendly, approachable features with expressive eyes
Background: Dreamy, slightly blurred, storybook atmosphere
Quality: Professional children's book illustration quality, high detail`

// NoTextRule keeps lettering out of generated artwork; titles are typeset separately.
const NoTextRule = "NO TEXT, NO LETTERS, NO WORDS, NO TITLE anywhere in the image."

var ageGuidelines = map[domain.AgeBand]string{
	domain.AgeBand3to4: "Use very simple words (2-3 syllables max), short sentences (5-8 words), familiar everyday concepts. Repetition is good. Focus on colors, animals, and simple actions.",
	domain.AgeBand5to6: "Use simple vocabulary with occasional new words, sentences up to 10 words, introduce mild challenges and small adventures. Include emotions and friendships.",
	domain.AgeBand7to9: "Use richer vocabulary, longer descriptive sentences, more plot complexity. Include problem-solving, courage, and character growth.",
}

var toneDescriptions = map[domain.Tone]string{
	domain.ToneGentle: "Warm, soft, and comforting. Use soothing language that creates a safe, cozy atmosphere. Perfect for bedtime.",
	domain.ToneFunny:  "Playful, silly, and fun. Include light humor, funny situations, and amusing descriptions that make children giggle.",
	domain.ToneBrave:  "Adventurous and empowering. The child faces challenges with courage. Use exciting action words and triumphant moments.",
}

var toneMoods = map[domain.Tone]string{
	domain.ToneGentle: "Serene, cozy, bedtime warmth. Soft pastels, calm expressions, peaceful atmosphere.",
	domain.ToneFunny:  "Playful, energetic, silly expressions. Bright saturated colors, dynamic poses, whimsical details.",
	domain.ToneBrave:  "Bold, adventurous, heroic poses. Strong colors, dramatic lighting, empowering composition.",
}

var nameCaser = cases.Title(language.English)

// DisplayName normalises a child's name for prompts: trimmed, single-spaced
// and title-cased ("mary-jane o'neil" becomes "Mary-Jane O'neil").
func DisplayName(name string) string {
	return nameCaser.String(strings.Join(strings.Fields(name), " "))
}

// StorySystem is the system prompt for the story step.
func StorySystem(age domain.AgeBand) string {
	guide, ok := ageGuidelines[age]
	if !ok {
		guide = ageGuidelines[domain.AgeBand5to6]
	}
	return fmt.Sprintf(`You are a beloved children's book author who writes engaging, age-appropriate stories that children love.

For ages %s:
%s

Your writing style:
- Make the child the HERO of their own story
- Use their name naturally throughout the narrative
- Create vivid, imaginable scenes
- End each page with a hook that makes them want more
- Write in present tense for immediacy

IMPORTANT: You must respond ONLY with valid JSON. No markdown, no explanation, just the JSON object.`, age, guide)
}

// StoryUser is the user prompt for the story step.
func StoryUser(book *domain.Book) string {
	name := DisplayName(book.ChildName)
	primary := primaryInterest(book.Interests)

	var sb strings.Builder
	sb.WriteString("Write the FIRST PAGE of a personalized children's storybook.\n\n")
	sb.WriteString("CHILD DETAILS:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", name)
	fmt.Fprintf(&sb, "- Age: %s years old\n", book.AgeBand)
	fmt.Fprintf(&sb, "- Interests: %s\n", strings.Join(book.Interests, ", "))
	fmt.Fprintf(&sb, "- Preferred tone: %s (%s)\n", book.Tone, toneDescriptions[book.Tone])
	if lesson := strings.TrimSpace(book.MoralLesson); lesson != "" {
		fmt.Fprintf(&sb, "- Lesson to weave in: %s\n", lesson)
	}
	fmt.Fprintf(&sb, `
REQUIREMENTS:
1. Create a catchy BOOK TITLE of 2-6 words that includes %[1]s's name and relates to %[2]s
2. Write 1-3 sentences ONLY (this is just page 1 of a longer book)
3. Introduce %[1]s as the main character doing something exciting
4. Feature %[2]s prominently
5. Match the %[3]s tone throughout
6. End with something that makes the reader want to turn the page
7. Also write a detailed illustration prompt describing the scene

RESPOND WITH THIS EXACT JSON FORMAT:
{
  "title": "A catchy book title including the child's name",
  "page1Text": "The story text for page 1",
  "illustrationPrompt": "A detailed visual description of the scene for an illustrator"
}`, name, primary, book.Tone)
	return sb.String()
}

// CharacterSheet is the transform prompt applied to the source photo.
func CharacterSheet(book *domain.Book) string {
	return fmt.Sprintf(`Create a children's book character reference sheet based on this child's photo.

CHARACTER: %s

REQUIREMENTS:
- Transform the child into an illustrated storybook character
- Keep recognizable features: face shape, hair color/style, eye color
- Style: Friendly, warm, Pixar/Disney-inspired 2D illustration
- Show: Front-facing portrait, 3/4 view, and a happy expression
- Background: Clean white or very light background
- Expression: Warm, friendly smile, bright expressive eyes
- Proportions: Slightly stylized but recognizable
- %s

%s

This character sheet will be used as a reference to maintain consistency across all book illustrations.`,
		DisplayName(book.ChildName), NoTextRule, baseStyle)
}

// Cover is the transform prompt applied to the character sheet for the cover.
func Cover(book *domain.Book) string {
	theme := primaryInterest(book.Interests)
	if rest := book.Interests; len(rest) > 1 {
		theme += ", with elements of " + strings.Join(rest[1:], " and ")
	}
	return fmt.Sprintf(`Create a children's book COVER illustration.

HERO CHARACTER: %s (use the provided character reference for exact likeness)
READER AGE: %s years old

SCENE:
- %s as the central hero figure
- Theme: %s
- Mood: %s
- The child looks confident, excited, ready for adventure

COMPOSITION:
- Character prominently centered
- Leave calm open space at the top where a title can be added later
- Magical, inviting atmosphere

%s
The cover must be artwork only: %s

CRITICAL: The character MUST match the provided reference sheet exactly - same face, hair, features.`,
		DisplayName(book.ChildName), book.AgeBand, DisplayName(book.ChildName), theme, toneMoods[book.Tone], baseStyle, NoTextRule)
}

// PageScene is the transform prompt for a content page illustration. The page
// text is the scene; the story step's illustration prompt refines it.
func PageScene(book *domain.Book, pageNumber int, pageText, illustrationPrompt string) string {
	scene := strings.TrimSpace(illustrationPrompt)
	if scene == "" {
		scene = "Illustrate this moment from the story."
	}
	return fmt.Sprintf(`Create a children's book page illustration.

PAGE: %d

STORY TEXT ON THIS PAGE:
%s

SCENE DESCRIPTION:
%s

REQUIREMENTS:
- The main child character, %s, MUST match the provided reference sheet exactly
- Mood: %s
- Scene should be warm, inviting, and age-appropriate
- Leave some margin space for text overlay
- %s

%s

CRITICAL: Maintain exact character likeness from the reference sheet - same face, hair, features, expressions style.`,
		pageNumber, strings.TrimSpace(pageText), scene, DisplayName(book.ChildName), toneMoods[book.Tone], NoTextRule, baseStyle)
}

func primaryInterest(interests []string) string {
	for _, i := range interests {
		if i = strings.TrimSpace(i); i != "" {
			return i
		}
	}
	return "adventure"
}
