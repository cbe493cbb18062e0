// Studio is the credit-metered generation service: an HTTP API for the web front end,
// a Telegram bot, and the operator commands that maintain the ledger.
//
// Usage:
//
//	# Run the API, the bot and the scheduled jobs
//	studio serve
//
//	# Create or upgrade the schema
//	studio migrate
//
//	# Grant credits to a user
//	studio grant --user u_123 --amount 50 --description "support"
//
//	# Run the scheduled jobs once
//	studio reset-monthly
//	studio retry-refunds
//
// Configuration comes from the environment, optionally through a .env file.
package main

func main() {
	Execute()
}
