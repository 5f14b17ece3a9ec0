package postgres

const queryInsertUser = `
INSERT INTO users (id, email, created_at)
VALUES ($1, $2, $3)
`

const queryGetUserByID = `
SELECT id, email, created_at
FROM users
WHERE id = $1
`

const queryGetUserByEmail = `
SELECT id, email, created_at
FROM users
WHERE email = $1
`

const queryInsertJob = `
INSERT INTO jobs (id, subject, body, scheduled_for, delay_seconds, hourly_limit, status, user_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryInsertRecipient = `
INSERT INTO recipients (id, email, job_id, status, scheduled_at, error_message, retry_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryMarkRecipientSent = `
UPDATE recipients
SET status = 'sent', sent_at = $2, updated_at = $3
WHERE id = $1
  AND status <> 'sent'
`

const queryMarkRecipientFailed = `
UPDATE recipients
SET status = 'failed', error_message = $2, retry_count = retry_count + 1, updated_at = $3
WHERE id = $1
  AND status <> 'sent'
`

const queryMarkRecipientDeferred = `
UPDATE recipients
SET status = 'scheduled', scheduled_at = $2, updated_at = $3
WHERE id = $1
  AND status <> 'sent'
`

const queryGetRecipientStatus = `
SELECT status FROM recipients WHERE id = $1
`

const queryListJobRecipients = `
SELECT id, email, job_id, status, scheduled_at, sent_at, error_message, retry_count, created_at, updated_at
FROM recipients
WHERE job_id = $1
ORDER BY scheduled_at ASC
`

const queryUpdateJobStatus = `
UPDATE jobs
SET status = $2, updated_at = $3
WHERE id = $1
`

const queryListScheduledEmails = `
SELECT r.id, r.email, j.subject, j.body, r.scheduled_at, r.status
FROM recipients r
JOIN jobs j ON r.job_id = j.id
JOIN users u ON j.user_id = u.id
WHERE u.email = $1
  AND r.status IN ('pending', 'scheduled')
ORDER BY r.scheduled_at ASC
LIMIT $2
`

const queryListSentEmails = `
SELECT r.id, r.email, j.subject, j.body, r.sent_at, r.status, r.error_message
FROM recipients r
JOIN jobs j ON r.job_id = j.id
JOIN users u ON j.user_id = u.id
WHERE u.email = $1
  AND r.status IN ('sent', 'failed')
ORDER BY r.sent_at DESC NULLS LAST
LIMIT $2
`

const queryGetStuckRecipients = `
SELECT r.id, r.job_id, r.email, j.subject, j.body, j.user_id, j.hourly_limit, r.scheduled_at
FROM recipients r
JOIN jobs j ON r.job_id = j.id
WHERE r.status IN ('pending', 'scheduled')
  AND r.scheduled_at < $1
ORDER BY r.scheduled_at ASC
LIMIT $2
`
