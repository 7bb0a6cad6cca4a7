package sqlinline

const QPageSelect = `--sql 6b772e04-53a5-4385-ac69-ef9c3e1aa953
select
    id::text,
    book_id::text,
    page_number,
    page_type,
    coalesce(text, ''),
    coalesce(illustration_prompt, ''),
    coalesce(illustration_path, ''),
    created_at,
    updated_at
from book_pages
where book_id = $1::uuid
  and page_number = $2::int;
`

// QPageUpsertText writes only the text columns so an illustration stored by a
// later step survives a rerun of the story step.
const QPageUpsertText = `--sql ff09385d-7f9e-4362-af77-231f1c7f53ac
insert into book_pages (id, book_id, page_number, page_type, text, illustration_prompt, created_at, updated_at)
values (gen_random_uuid(), $1::uuid, $2::int, $3::text, $4::text, nullif($5::text, ''), now(), now())
on conflict (book_id, page_number) do update set
    page_type = excluded.page_type,
    text = excluded.text,
    illustration_prompt = excluded.illustration_prompt,
    updated_at = now();
`

const QPageSetIllustration = `--sql e235023e-fe83-4352-a24f-74528f024c63
insert into book_pages (id, book_id, page_number, page_type, illustration_path, created_at, updated_at)
values (gen_random_uuid(), $1::uuid, $2::int, 'content', $3::text, now(), now())
on conflict (book_id, page_number) do update set
    illustration_path = excluded.illustration_path,
    updated_at = now();
`
