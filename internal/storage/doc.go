// Package storage is the persistence layer of the bot.
//
// It holds three kinds of records:
//   - Templates: reusable message payloads
//   - Chat groups: named collections of destination chat ids
//   - Campaigns: the durable record of each broadcast run
package storage
