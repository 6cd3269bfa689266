// Package config loads service configuration from SHIFTBILL_* environment
// variables, optionally seeded from a .env file.
//
// Server:
//
//	SHIFTBILL_HOST="0.0.0.0"
//	SHIFTBILL_PORT="8080"
//	SHIFTBILL_SHUTDOWN_TIMEOUT="30s"
//
// Store:
//
//	SHIFTBILL_STORE="postgres"            # postgres or memory
//	SHIFTBILL_DATABASE_URL="postgres://..."
//	SHIFTBILL_REDIS_URL="redis://localhost:6379/0"
//
// Provider:
//
//	SHIFTBILL_PAYPAL_CLIENT_ID, SHIFTBILL_PAYPAL_CLIENT_SECRET
//	SHIFTBILL_PAYPAL_WEBHOOK_ID           # empty skips signature verification
//	SHIFTBILL_PAYPAL_PRODUCT_ID
//
// Pricing overrides use cents: SHIFTBILL_PRICE_PER_WORKER_CENTS,
// SHIFTBILL_PRICE_PER_SHOP_CENTS, SHIFTBILL_ENTERPRISE_PRICE_CENTS.
package config
