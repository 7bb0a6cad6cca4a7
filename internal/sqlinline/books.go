package sqlinline

const QBookSelectByID = `--sql 13ca778d-4362-4daf-a178-1384919964fd
select
    id::text,
    child_name,
    age_band,
    interests,
    tone,
    coalesce(moral_lesson, ''),
    coalesce(source_photo_path, ''),
    coalesce(character_sheet_path, ''),
    coalesce(cover_image_path, ''),
    coalesce(title, ''),
    status,
    coalesce(error_message, ''),
    created_at,
    updated_at
from books
where id = $1::uuid;
`

// QBookInsertWithJob writes the book and its first job in one statement so a
// job never exists without its book.
const QBookInsertWithJob = `--sql 3aa338c7-8347-4ffd-a28d-61b29a1a5cb1
with new_book as (
    insert into books (id, child_name, age_band, interests, tone, moral_lesson, source_photo_path, status, created_at, updated_at)
    values ($1::uuid, $2::text, $3::text, $4::text[], $5::text, nullif($6::text, ''), $7::text, 'draft', now(), now())
    returning id
)
insert into book_jobs (id, book_id, status, step, attempts, max_attempts, created_at, updated_at)
select gen_random_uuid(), id, 'queued', 'character_sheet', 0, $8::int, now(), now()
from new_book
returning
    id::text,
    book_id::text,
    status,
    step,
    coalesce(error_message, ''),
    attempts,
    max_attempts,
    created_at,
    started_at,
    completed_at,
    updated_at;
`

const QBookMarkGenerating = `--sql 7e888f7c-8df9-40bd-9ca0-c942a4c16d99
update books
set status = 'generating',
    error_message = null,
    updated_at = now()
where id = $1::uuid
  and status in ('draft', 'generating');
`

const QBookSetCharacterSheet = `--sql 5d61fcf2-f6f3-4edc-8c57-f76740ce5178
update books
set character_sheet_path = $2::text,
    updated_at = now()
where id = $1::uuid;
`

const QBookSetTitle = `--sql 54dd1207-7723-45b0-91ce-ce097578b042
update books
set title = $2::text,
    updated_at = now()
where id = $1::uuid;
`

const QBookSetCover = `--sql 864650fb-2a8a-4b5e-b161-f548f54f903e
update books
set cover_image_path = $2::text,
    updated_at = now()
where id = $1::uuid;
`

const QBookMarkPreviewReady = `--sql 69f5fb14-6b0f-4570-a454-a24b9facace3
update books
set status = 'preview_ready',
    error_message = null,
    updated_at = now()
where id = $1::uuid
  and status in ('draft', 'generating');
`

const QBookMarkFailed = `--sql ffbbd29a-2527-4a54-b6bf-972395b7e4c0
update books
set status = 'failed',
    error_message = $2::text,
    updated_at = now()
where id = $1::uuid
  and status in ('draft', 'generating');
`
