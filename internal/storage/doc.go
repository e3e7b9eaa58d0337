package storage

// Package storage provides the bot's persistence layer.
//
// It currently supports:
//   - Session records (token + cookies per account, surviving restarts)
//   - Reservation result appends (one record per pipeline outcome)
