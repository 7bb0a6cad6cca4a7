package sqlinline

const QJobSelectNextQueued = `--sql 50483561-d71b-418b-b933-9cf7299433ef
select id::text
from book_jobs
where status = 'queued'
  and (retry_after is null or retry_after <= now())
order by created_at asc, id asc
limit 1;
`

// QJobClaim is the only statement that moves a job into processing. The
// status predicate makes concurrent claims of the same row mutually exclusive.
// A job backing off after a failed attempt cannot be claimed early.
const QJobClaim = `--sql 8850040a-f6da-4fa1-9d65-87db0f3a60b1
update book_jobs
set status = 'processing',
    attempts = attempts + 1,
    started_at = now(),
    retry_after = null,
    updated_at = now()
where id = $1::uuid
  and status = 'queued'
  and (retry_after is null or retry_after <= now())
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

const QJobSelectByID = `--sql 5eade37d-fb77-4d8b-924c-ff8173f2aa8d
select
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
    updated_at
from book_jobs
where id = $1::uuid;
`

const QJobSelectLatestForBook = `--sql ec5f8628-49d0-496c-b964-0af3fc9d8792
select
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
    updated_at
from book_jobs
where book_id = $1::uuid
order by created_at desc
limit 1;
`

// QJobAdvanceStep moves to the next step and resets the attempt budget, so
// max_attempts bounds retries of a single step.
//
// The owner's writes below are fenced by the claim's started_at. A reclaimed
// and re-claimed job has a new started_at, so the old owner's writes match
// nothing.
const QJobAdvanceStep = `--sql d67e1888-bba1-4644-97d8-b8cc20664362
update book_jobs
set step = $2::text,
    attempts = 0,
    updated_at = now()
where id = $1::uuid
  and status = 'processing'
  and started_at = $3::timestamptz;
`

const QJobRequeue = `--sql 8fc23a9b-b018-4dfe-8151-96fdca99e260
update book_jobs
set status = 'queued',
    error_message = null,
    updated_at = now()
where id = $1::uuid
  and status = 'processing'
  and started_at = $2::timestamptz;
`

const QJobMarkCompleted = `--sql 1f27652b-380f-4b53-9c4d-795904369fad
update book_jobs
set status = 'completed',
    error_message = null,
    completed_at = now(),
    updated_at = now()
where id = $1::uuid
  and status = 'processing'
  and started_at = $2::timestamptz;
`

const QJobMarkFailed = `--sql e98f4d1c-012d-47bd-9f3b-02a659095949
update book_jobs
set status = 'failed',
    error_message = $2::text,
    completed_at = now(),
    updated_at = now()
where id = $1::uuid
  and status = 'processing'
  and started_at = $3::timestamptz;
`

// QJobRequeueForRetry returns the job to the queue at its current step and
// holds it back for $3 seconds.
const QJobRequeueForRetry = `--sql 0f1d8865-616d-4b3f-9b64-4c8379ccc095
update book_jobs
set status = 'queued',
    error_message = $2::text,
    retry_after = now() + make_interval(secs => $3::double precision),
    updated_at = now()
where id = $1::uuid
  and status = 'processing'
  and started_at = $4::timestamptz;
`

// QJobReclaimStale returns jobs abandoned mid-step to the queue. The attempt
// they consumed stays counted.
const QJobReclaimStale = `--sql 651d7507-a9ae-4be4-a2f6-3215afe212c4
update book_jobs
set status = 'queued',
    error_message = 'step did not finish before the worker stopped',
    updated_at = now()
where status = 'processing'
  and started_at < now() - make_interval(secs => $1::double precision);
`
