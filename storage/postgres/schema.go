package postgres

// schema is the billing schema. billing_history is append-only: no UPDATE or
// DELETE statement in this package ever touches it.
const schema = `
CREATE TABLE IF NOT EXISTS product (
	id          UUID PRIMARY KEY,
	remote_id   TEXT NOT NULL,
	name        VARCHAR(250) NOT NULL,
	description VARCHAR(250) NOT NULL DEFAULT '',
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS price (
	id                 UUID PRIMARY KEY,
	remote_id          TEXT NOT NULL,
	product_id         UUID NOT NULL REFERENCES product (id),
	remote_product_id  TEXT NOT NULL,
	name               VARCHAR(250) NOT NULL,
	type               VARCHAR(50) NOT NULL,
	unit_amount        BIGINT NOT NULL,
	currency           VARCHAR(10) NOT NULL,
	recurring_interval VARCHAR(10),
	interval_count     BIGINT NOT NULL DEFAULT 0,
	usage_type         VARCHAR(10),
	permission_id      INTEGER NOT NULL,
	active             BOOLEAN NOT NULL DEFAULT TRUE,
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_product ON price (product_id);
CREATE INDEX IF NOT EXISTS idx_price_remote ON price (remote_id);

CREATE TABLE IF NOT EXISTS stripe_customer (
	id                 UUID PRIMARY KEY,
	user_id            UUID NOT NULL UNIQUE,
	remote_customer_id TEXT NOT NULL UNIQUE,
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS billing_history (
	id                  UUID PRIMARY KEY,
	customer_id         UUID NOT NULL REFERENCES stripe_customer (id),
	price_id            UUID NOT NULL REFERENCES price (id),
	subscription_id     TEXT NOT NULL,
	subscription_status VARCHAR(30) NOT NULL,
	event_type          VARCHAR(50) NOT NULL,
	additional_info     JSONB,
	created_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_customer ON billing_history (customer_id);
CREATE INDEX IF NOT EXISTS idx_history_subscription ON billing_history (subscription_id);
`
