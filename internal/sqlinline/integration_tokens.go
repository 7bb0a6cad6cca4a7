package sqlinline

const QSelectIntegrationToken = `--sql 238c0418-2150-4512-8a07-60ea0e9f2a9e
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 95578579-3fee-4139-81b5-189adc014cf1
insert into integration_tokens (provider, token, updated_at)
values ($1::text, $2::text, now())
on conflict (provider) do update set
    token = excluded.token,
    updated_at = now();
`
