package services

import "time"

const (
	KeyAccount              = "user:%s:account"
	KeyUserIndex            = "users"
	KeyUserChildren         = "user:%s:children"
	KeyNonce                = "user:%s:nonce:%d"
	KeyCommitment           = "commitment:%s"
	KeyPendingCommits       = "commitments:pending"
	KeyGameRecord           = "game:record:%s"
	KeyUserGames            = "user:%s:games"
	KeyTransaction          = "transaction:%s"
	KeyUserTransaction      = "user:%s:transactions"
	KeyWithdrawal           = "withdrawal:%s"
	KeyCommission           = "commission:%s"
	KeyProgress             = "distribution:%s:progress"
	KeyPendingDistributions = "distributions:pending"
	KeyDepositClaim         = "deposit:%s"
	KeyProtection           = "protection:%s"
	KeyRound                = "jackpot:round:%s"
	KeyRoundState           = "jackpot:round:%s:state"
	KeyRoundEntries         = "jackpot:round:%s:entries"
	KeyCurrentRound         = "jackpot:current"
	KeyRateLimit            = "ratelimit:%s:%s"

	TTLNonce       = 30 * 24 * time.Hour // 30 days
	TTLGameRecord  = 30 * 24 * time.Hour // 30 days
	TTLTransaction = 30 * 24 * time.Hour // 30 days
	TTLCommitment  = 7 * 24 * time.Hour  // 7 days
	TTLProgress    = 30 * 24 * time.Hour
	TTLProtection  = 7 * 24 * time.Hour

	DefaultRateLimitBets = 30 // Max 30 bets per minute
)
