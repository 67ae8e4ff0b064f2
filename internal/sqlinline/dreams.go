package sqlinline

const QCreateDreamsTable = `--sql bc5e1b0b-8fb1-418b-bf5d-92f48e9e5262
create table if not exists dreams (
  id                text primary key,
  title             text not null default '',
  description       text not null,
  status            text not null,
  status_changed_at timestamptz not null,
  created_at        timestamptz not null,
  analysis          jsonb,
  artifact          jsonb,
  error_message     text not null default '',
  failure_kind      text not null default ''
);
`

const QListDreams = `--sql 59c43c99-b55a-4d49-9f18-12456dd809c8
select
  id,
  title,
  description,
  status,
  status_changed_at,
  created_at,
  analysis,
  artifact,
  error_message,
  failure_kind
from dreams
order by created_at asc, id asc;
`

const QUpsertDream = `--sql 77c36a48-05ec-4002-a3f2-602337e7505b
insert into dreams(
  id,
  title,
  description,
  status,
  status_changed_at,
  created_at,
  analysis,
  artifact,
  error_message,
  failure_kind
) values (
  $1::text,
  $2::text,
  $3::text,
  $4::text,
  $5::timestamptz,
  $6::timestamptz,
  $7::jsonb,
  $8::jsonb,
  $9::text,
  $10::text
)
on conflict (id) do update set
  title = excluded.title,
  description = excluded.description,
  status = excluded.status,
  status_changed_at = excluded.status_changed_at,
  analysis = excluded.analysis,
  artifact = excluded.artifact,
  error_message = excluded.error_message,
  failure_kind = excluded.failure_kind;
`

const QDeleteDream = `--sql 94d31716-7cf5-4854-9000-369dd73224cf
delete from dreams
where id = $1::text;
`
