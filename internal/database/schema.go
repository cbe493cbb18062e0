package database

var mysqlSchema = []string{`
CREATE TABLE IF NOT EXISTS accounts (
    user_id VARCHAR(128) NOT NULL PRIMARY KEY,
    email VARCHAR(255),
    plan_tier VARCHAR(32) NOT NULL DEFAULT 'free',
    credits_balance BIGINT NOT NULL DEFAULT 0,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    CONSTRAINT chk_accounts_balance CHECK (credits_balance >= 0)
)`, `
CREATE TABLE IF NOT EXISTS credit_transactions (
    seq BIGINT AUTO_INCREMENT PRIMARY KEY,
    id CHAR(36) NOT NULL UNIQUE,
    user_id VARCHAR(128) NOT NULL,
    type VARCHAR(32) NOT NULL,
    amount BIGINT NOT NULL,
    balance_after BIGINT NOT NULL,
    description TEXT NOT NULL,
    related_generation_id CHAR(36),
    refund_of CHAR(36) UNIQUE,
    created_at DATETIME(6) NOT NULL,
    KEY idx_credit_tx_user_created (user_id, created_at),
    KEY idx_credit_tx_created (created_at),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
)`, `
CREATE TABLE IF NOT EXISTS generations (
    id CHAR(36) NOT NULL PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    generation_type VARCHAR(16) NOT NULL,
    count INT NOT NULL,
    credits_used BIGINT NOT NULL,
    credit_transaction_id CHAR(36),
    prompt TEXT NOT NULL,
    settings TEXT,
    result_urls TEXT NOT NULL,
    created_at DATETIME(6) NOT NULL,
    KEY idx_generations_user_created (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
)`, `
CREATE TABLE IF NOT EXISTS usage_analytics (
    user_id VARCHAR(128) NOT NULL,
    day CHAR(10) NOT NULL,
    generation_type VARCHAR(16) NOT NULL,
    count BIGINT NOT NULL DEFAULT 0,
    credits_used BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, day, generation_type),
    KEY idx_usage_analytics_day (day)
)`, `
CREATE TABLE IF NOT EXISTS usage_events (
    id CHAR(36) NOT NULL PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    event_type VARCHAR(64) NOT NULL,
    cost DOUBLE NOT NULL,
    credits BIGINT NOT NULL,
    tokens BIGINT NOT NULL DEFAULT 0,
    request_id VARCHAR(128),
    metadata TEXT,
    credit_transaction_id CHAR(36) NOT NULL,
    created_at DATETIME(6) NOT NULL,
    UNIQUE KEY uniq_usage_request (user_id, request_id),
    KEY idx_usage_events_created (created_at),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
)`, `
CREATE TABLE IF NOT EXISTS pending_refunds (
    id CHAR(36) NOT NULL PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    transaction_id CHAR(36) NOT NULL UNIQUE,
    reason TEXT NOT NULL,
    attempts INT NOT NULL DEFAULT 0,
    last_error TEXT,
    status VARCHAR(16) NOT NULL,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    KEY idx_pending_refunds_status (status)
)`, `
CREATE TABLE IF NOT EXISTS credit_packages (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    description TEXT,
    currency VARCHAR(8) NOT NULL,
    price_minor_units INT NOT NULL,
    credits BIGINT NOT NULL,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS promo_codes (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    max_uses INT NOT NULL,
    uses INT NOT NULL DEFAULT 0,
    credits BIGINT NOT NULL,
    created_at DATETIME(6) NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS promo_redemptions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    promo_code_id BIGINT NOT NULL,
    created_at DATETIME(6) NOT NULL,
    UNIQUE KEY uniq_user_promo (user_id, promo_code_id),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id),
    FOREIGN KEY (promo_code_id) REFERENCES promo_codes(id)
)`, `
CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    package_id BIGINT,
    provider VARCHAR(64) NOT NULL,
    provider_payment_charge_id VARCHAR(128),
    currency VARCHAR(8) NOT NULL,
    amount INT NOT NULL,
    status VARCHAR(16) NOT NULL,
    raw_payload TEXT,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    UNIQUE KEY uniq_provider_charge (provider, provider_payment_charge_id),
    FOREIGN KEY (user_id) REFERENCES accounts(user_id)
)`}

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS accounts (
    user_id TEXT NOT NULL PRIMARY KEY,
    email TEXT,
    plan_tier TEXT NOT NULL DEFAULT 'free',
    credits_balance INTEGER NOT NULL DEFAULT 0 CHECK (credits_balance >= 0),
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS credit_transactions (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL REFERENCES accounts(user_id),
    type TEXT NOT NULL,
    amount INTEGER NOT NULL,
    balance_after INTEGER NOT NULL,
    description TEXT NOT NULL,
    related_generation_id TEXT,
    refund_of TEXT UNIQUE,
    created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_tx_user_created ON credit_transactions (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_tx_created ON credit_transactions (created_at)`, `
CREATE TABLE IF NOT EXISTS generations (
    id TEXT NOT NULL PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES accounts(user_id),
    generation_type TEXT NOT NULL,
    count INTEGER NOT NULL,
    credits_used INTEGER NOT NULL,
    credit_transaction_id TEXT,
    prompt TEXT NOT NULL,
    settings TEXT,
    result_urls TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_generations_user_created ON generations (user_id, created_at)`, `
CREATE TABLE IF NOT EXISTS usage_analytics (
    user_id TEXT NOT NULL,
    day TEXT NOT NULL,
    generation_type TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    credits_used INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, day, generation_type)
)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_analytics_day ON usage_analytics (day)`, `
CREATE TABLE IF NOT EXISTS usage_events (
    id TEXT NOT NULL PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES accounts(user_id),
    event_type TEXT NOT NULL,
    cost REAL NOT NULL,
    credits INTEGER NOT NULL,
    tokens INTEGER NOT NULL DEFAULT 0,
    request_id TEXT,
    metadata TEXT,
    credit_transaction_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (user_id, request_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_events_created ON usage_events (created_at)`, `
CREATE TABLE IF NOT EXISTS pending_refunds (
    id TEXT NOT NULL PRIMARY KEY,
    user_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL UNIQUE,
    reason TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_refunds_status ON pending_refunds (status)`, `
CREATE TABLE IF NOT EXISTS credit_packages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    description TEXT,
    currency TEXT NOT NULL,
    price_minor_units INTEGER NOT NULL,
    credits INTEGER NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS promo_codes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    code TEXT NOT NULL UNIQUE,
    max_uses INTEGER NOT NULL,
    uses INTEGER NOT NULL DEFAULT 0,
    credits INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS promo_redemptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL REFERENCES accounts(user_id),
    promo_code_id INTEGER NOT NULL REFERENCES promo_codes(id),
    created_at TIMESTAMP NOT NULL,
    UNIQUE (user_id, promo_code_id)
)`, `
CREATE TABLE IF NOT EXISTS payments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL REFERENCES accounts(user_id),
    package_id INTEGER,
    provider TEXT NOT NULL,
    provider_payment_charge_id TEXT,
    currency TEXT NOT NULL,
    amount INTEGER NOT NULL,
    status TEXT NOT NULL,
    raw_payload TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (provider, provider_payment_charge_id)
)`}
