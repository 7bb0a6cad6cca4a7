package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobStep is the position of a job in the preview pipeline.
type JobStep string

const (
	StepCharacterSheet JobStep = "character_sheet"
	StepStoryText      JobStep = "story_text"
	StepCoverImage     JobStep = "cover_image"
	StepPage1Image     JobStep = "page1_image"
	StepComplete       JobStep = "complete"
)

// Steps lists every step in execution order.
var Steps = []JobStep{
	StepCharacterSheet,
	StepStoryText,
	StepCoverImage,
	StepPage1Image,
	StepComplete,
}

// Next returns the step that follows s. Complete is its own successor.
func (s JobStep) Next() JobStep {
	for i, step := range Steps {
		if step == s && i+1 < len(Steps) {
			return Steps[i+1]
		}
	}
	return StepComplete
}

func (s JobStep) Valid() bool {
	for _, step := range Steps {
		if step == s {
			return true
		}
	}
	return false
}

// Label is the progress text shown while the step runs.
func (s JobStep) Label() string {
	switch s {
	case StepCharacterSheet:
		return "Analyzing photo..."
	case StepStoryText:
		return "Writing story..."
	case StepCoverImage:
		return "Creating cover..."
	case StepPage1Image:
		return "Illustrating page..."
	case StepComplete:
		return "Finishing up..."
	}
	return ""
}

// DefaultMaxAttempts is the claim ceiling for a new job.
const DefaultMaxAttempts = 3

// BookJob drives one book through the generation steps.
type BookJob struct {
	ID           string
	BookID       string
	Status       JobStatus
	Step         JobStep
	ErrorMessage string
	Attempts     int
	MaxAttempts  int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// ClaimedAt is the claim's fencing token. Writes carrying an older token
// match no row once the job has been reclaimed and claimed again.
func (j *BookJob) ClaimedAt() time.Time {
	if j.StartedAt == nil {
		return time.Time{}
	}
	return *j.StartedAt
}

// AttemptsRemaining reports whether another claim is allowed after a failure.
func (j *BookJob) AttemptsRemaining() bool {
	return j.Attempts < j.MaxAttempts
}
