package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/config"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/store"
)

// RedisService is the production store.Store.
type RedisService struct {
	client *redis.Client
}

var _ store.Store = (*RedisService)(nil)

func NewRedisService(cfg *config.Config) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisService{client: client}, nil
}

// Client exposes the connection for the distributed locker.
func (s *RedisService) Client() *redis.Client {
	return s.client
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

func (s *RedisService) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *RedisService) CreateAccount(ctx context.Context, acct *models.Account) (bool, error) {
	data, err := json.Marshal(acct)
	if err != nil {
		return false, fmt.Errorf("failed to marshal account: %w", err)
	}

	ok, err := s.client.SetNX(ctx, fmt.Sprintf(KeyAccount, acct.UserID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to create account: %w", err)
	}
	if ok {
		if err := s.client.SAdd(ctx, KeyUserIndex, acct.UserID).Err(); err != nil {
			return true, fmt.Errorf("failed to index account: %w", err)
		}
	}
	return ok, nil
}

func (s *RedisService) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var acct models.Account
	err := s.getJSON(ctx, fmt.Sprintf(KeyAccount, userID), &acct)
	if errors.Is(err, redis.Nil) {
		return nil, apperr.New(apperr.CodeNotFound, "user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if acct.Wallets == nil {
		acct.Wallets = models.NewWallets()
	}
	return &acct, nil
}

func (s *RedisService) SaveAccount(ctx context.Context, acct *models.Account) error {
	return s.exec(ctx, "save account", func(pipe redis.Pipeliner) error {
		return queueAccount(ctx, pipe, acct)
	})
}

// ApplyUnit writes the unit in one MULTI. The account key and every claimed
// deposit key are watched, so a concurrent writer aborts the transaction.
func (s *RedisService) ApplyUnit(ctx context.Context, u *store.Unit) error {
	keys := make([]string, 0, 1+len(u.DepositClaims))
	keys = append(keys, fmt.Sprintf(KeyAccount, u.Account.UserID))
	for _, h := range u.DepositClaims {
		keys = append(keys, fmt.Sprintf(KeyDepositClaim, h))
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var stored *models.Account
		data, err := tx.Get(ctx, keys[0]).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to read account: %w", err)
		default:
			stored = &models.Account{}
			if err := json.Unmarshal(data, stored); err != nil {
				return fmt.Errorf("failed to unmarshal account: %w", err)
			}
		}
		if err := store.CheckVersion(stored, u.Account); err != nil {
			return err
		}

		for i, h := range u.DepositClaims {
			n, err := tx.Exists(ctx, keys[i+1]).Result()
			if err != nil {
				return fmt.Errorf("failed to check deposit claim: %w", err)
			}
			if n > 0 {
				return store.DuplicateDeposit(h)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return queueUnit(ctx, pipe, u)
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return apperr.Wrap(apperr.CodeConcurrencyConflict, apperr.ErrConcurrencyConflict, "account %s changed during save", u.Account.UserID)
	}
	if err != nil && apperr.CodeOf(err) == apperr.CodeUnknown {
		return fmt.Errorf("failed to apply unit: %w", err)
	}
	return err
}

func queueUnit(ctx context.Context, pipe redis.Pipeliner, u *store.Unit) error {
	if err := queueAccount(ctx, pipe, u.Account); err != nil {
		return err
	}
	for _, h := range u.DepositClaims {
		pipe.Set(ctx, fmt.Sprintf(KeyDepositClaim, h), u.Account.UserID, 0)
	}
	for _, tx := range u.Transactions {
		if err := queueTransaction(ctx, pipe, tx); err != nil {
			return err
		}
	}
	for _, c := range u.Commitments {
		if err := queueCommitment(ctx, pipe, c); err != nil {
			return err
		}
	}
	for _, g := range u.Games {
		if err := queueGame(ctx, pipe, g); err != nil {
			return err
		}
	}
	for _, w := range u.Withdrawals {
		if err := queueWithdrawal(ctx, pipe, w); err != nil {
			return err
		}
	}
	for _, c := range u.Commissions {
		if err := queueCommission(ctx, pipe, c); err != nil {
			return err
		}
	}
	for _, p := range u.Distributions {
		if err := queueProgress(ctx, pipe, p); err != nil {
			return err
		}
	}
	for _, pc := range u.ProtectionCredits {
		queueProtection(ctx, pipe, pc.Day, u.Account.UserID, pc.Amount)
	}
	return nil
}

func (s *RedisService) exec(ctx context.Context, op string, fn func(redis.Pipeliner) error) error {
	if _, err := s.client.TxPipelined(ctx, fn); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

func queueAccount(ctx context.Context, pipe redis.Pipeliner, acct *models.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	pipe.Set(ctx, fmt.Sprintf(KeyAccount, acct.UserID), data, 0)
	pipe.SAdd(ctx, KeyUserIndex, acct.UserID)
	return nil
}

func (s *RedisService) ListUserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, KeyUserIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisService) AddChild(ctx context.Context, parentID, childID string) error {
	// scored by join time so Children keeps registration order
	return s.client.ZAddNX(ctx, fmt.Sprintf(KeyUserChildren, parentID), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: childID,
	}).Err()
}

func (s *RedisService) Children(ctx context.Context, parentID string) ([]string, error) {
	ids, err := s.client.ZRange(ctx, fmt.Sprintf(KeyUserChildren, parentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get children: %w", err)
	}
	return ids, nil
}

func (s *RedisService) ReserveNonce(ctx context.Context, userID string, nonce int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, fmt.Sprintf(KeyNonce, userID, nonce), 1, TTLNonce).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve nonce: %w", err)
	}
	return ok, nil
}

func (s *RedisService) ReleaseNonce(ctx context.Context, userID string, nonce int64) error {
	return s.client.Del(ctx, fmt.Sprintf(KeyNonce, userID, nonce)).Err()
}

func (s *RedisService) SaveCommitment(ctx context.Context, c *models.Commitment) error {
	return s.exec(ctx, "save commitment", func(pipe redis.Pipeliner) error {
		return queueCommitment(ctx, pipe, c)
	})
}

func queueCommitment(ctx context.Context, pipe redis.Pipeliner, c *models.Commitment) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal commitment: %w", err)
	}
	pipe.Set(ctx, fmt.Sprintf(KeyCommitment, c.ID), data, TTLCommitment)
	if c.Status == models.CommitmentCommitted {
		pipe.ZAdd(ctx, KeyPendingCommits, redis.Z{Score: float64(c.ExpiresAt.UnixMilli()), Member: c.ID})
	} else {
		pipe.ZRem(ctx, KeyPendingCommits, c.ID)
	}
	return nil
}

func (s *RedisService) GetCommitment(ctx context.Context, id string) (*models.Commitment, error) {
	var c models.Commitment
	err := s.getJSON(ctx, fmt.Sprintf(KeyCommitment, id), &c)
	if errors.Is(err, redis.Nil) {
		return nil, apperr.New(apperr.CodeNotFound, "commitment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get commitment: %w", err)
	}
	return &c, nil
}

func (s *RedisService) OverdueCommitments(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.ZRangeByScore(ctx, KeyPendingCommits, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue commitments: %w", err)
	}
	return ids, nil
}

func (s *RedisService) AppendGame(ctx context.Context, rec *models.GameRecord) error {
	return s.exec(ctx, "append game record", func(pipe redis.Pipeliner) error {
		return queueGame(ctx, pipe, rec)
	})
}

func queueGame(ctx context.Context, pipe redis.Pipeliner, rec *models.GameRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal game record: %w", err)
	}
	userKey := fmt.Sprintf(KeyUserGames, rec.UserID)
	pipe.Set(ctx, fmt.Sprintf(KeyGameRecord, rec.ID), data, TTLGameRecord)
	pipe.ZAdd(ctx, userKey, redis.Z{Score: float64(rec.SettledAt.UnixNano()), Member: rec.ID})
	// Keep only the last HistoryLimit games
	pipe.ZRemRangeByRank(ctx, userKey, 0, -store.HistoryLimit-1)
	return nil
}

func (s *RedisService) GameHistory(ctx context.Context, userID string, limit int) ([]*models.GameRecord, error) {
	ids, err := s.recentIDs(ctx, fmt.Sprintf(KeyUserGames, userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get game ids: %w", err)
	}

	games := make([]*models.GameRecord, 0, len(ids))
	for _, data := range s.bulkGet(ctx, KeyGameRecord, ids) {
		var rec models.GameRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		games = append(games, &rec)
	}
	return games, nil
}

func (s *RedisService) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	return s.exec(ctx, "save transaction", func(pipe redis.Pipeliner) error {
		return queueTransaction(ctx, pipe, tx)
	})
}

func queueTransaction(ctx context.Context, pipe redis.Pipeliner, tx *models.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	userTxKey := fmt.Sprintf(KeyUserTransaction, tx.UserID)
	pipe.Set(ctx, fmt.Sprintf(KeyTransaction, tx.ID), data, TTLTransaction)
	pipe.ZAdd(ctx, userTxKey, redis.Z{Score: float64(tx.CreatedAt.UnixNano()), Member: tx.ID})
	pipe.ZRemRangeByRank(ctx, userTxKey, 0, -store.HistoryLimit-1)
	return nil
}

func (s *RedisService) Transactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	ids, err := s.recentIDs(ctx, fmt.Sprintf(KeyUserTransaction, userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction ids: %w", err)
	}

	txs := make([]*models.Transaction, 0, len(ids))
	for _, data := range s.bulkGet(ctx, KeyTransaction, ids) {
		var tx models.Transaction
		if err := json.Unmarshal(data, &tx); err != nil {
			continue
		}
		txs = append(txs, &tx)
	}
	return txs, nil
}

func (s *RedisService) recentIDs(ctx context.Context, key string, limit int) ([]string, error) {
	if limit <= 0 || limit > store.HistoryLimit {
		limit = store.HistoryLimit
	}
	return s.client.ZRevRange(ctx, key, 0, int64(limit-1)).Result()
}

// bulkGet fetches many documents in one round trip, skipping missing ones.
func (s *RedisService) bulkGet(ctx context.Context, keyFormat string, ids []string) [][]byte {
	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, fmt.Sprintf(keyFormat, id))
	}
	_, _ = pipe.Exec(ctx)

	out := make([][]byte, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

func (s *RedisService) SaveWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	return s.exec(ctx, "save withdrawal", func(pipe redis.Pipeliner) error {
		return queueWithdrawal(ctx, pipe, w)
	})
}

func queueWithdrawal(ctx context.Context, pipe redis.Pipeliner, w *models.Withdrawal) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal withdrawal: %w", err)
	}
	pipe.Set(ctx, fmt.Sprintf(KeyWithdrawal, w.ID), data, 0)
	return nil
}

func (s *RedisService) GetCommission(ctx context.Context, key string) (*models.Commission, bool, error) {
	var c models.Commission
	err := s.getJSON(ctx, fmt.Sprintf(KeyCommission, key), &c)
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get commission: %w", err)
	}
	return &c, true, nil
}

func (s *RedisService) SaveCommission(ctx context.Context, c *models.Commission) error {
	return s.exec(ctx, "save commission", func(pipe redis.Pipeliner) error {
		return queueCommission(ctx, pipe, c)
	})
}

func queueCommission(ctx context.Context, pipe redis.Pipeliner, c *models.Commission) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal commission: %w", err)
	}
	pipe.Set(ctx, fmt.Sprintf(KeyCommission, c.Key()), data, 0)
	return nil
}

func (s *RedisService) GetProgress(ctx context.Context, eventID string) (*models.DistributionProgress, error) {
	var p models.DistributionProgress
	err := s.getJSON(ctx, fmt.Sprintf(KeyProgress, eventID), &p)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return &p, nil
}

func (s *RedisService) SaveProgress(ctx context.Context, p *models.DistributionProgress) error {
	return s.exec(ctx, "save progress", func(pipe redis.Pipeliner) error {
		return queueProgress(ctx, pipe, p)
	})
}

// Unfinished walks stay indexed in KeyPendingDistributions, scored by their
// last checkpoint, and never expire until they are done.
func queueProgress(ctx context.Context, pipe redis.Pipeliner, p *models.DistributionProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	key := fmt.Sprintf(KeyProgress, p.EventID)
	if p.Done {
		pipe.Set(ctx, key, data, TTLProgress)
		pipe.ZRem(ctx, KeyPendingDistributions, p.EventID)
		return nil
	}
	pipe.Set(ctx, key, data, 0)
	pipe.ZAdd(ctx, KeyPendingDistributions, redis.Z{Score: float64(p.UpdatedAt.UnixMilli()), Member: p.EventID})
	return nil
}

func (s *RedisService) PendingDistributions(ctx context.Context, olderThan time.Time, limit int) ([]*models.DistributionProgress, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.ZRangeByScore(ctx, KeyPendingDistributions, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(olderThan.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending distributions: %w", err)
	}

	out := make([]*models.DistributionProgress, 0, len(ids))
	for _, data := range s.bulkGet(ctx, KeyProgress, ids) {
		var p models.DistributionProgress
		if err := json.Unmarshal(data, &p); err != nil || p.Done {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

func (s *RedisService) DepositClaimed(ctx context.Context, txHash string) (bool, error) {
	n, err := s.client.Exists(ctx, fmt.Sprintf(KeyDepositClaim, txHash)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check deposit claim: %w", err)
	}
	return n > 0, nil
}

func (s *RedisService) AddProtectionCredit(ctx context.Context, day, userID string, amount decimal.Decimal) error {
	return s.exec(ctx, "add protection credit", func(pipe redis.Pipeliner) error {
		queueProtection(ctx, pipe, day, userID, amount)
		return nil
	})
}

// Protection credits are kept as integer units of 1e-8 so HINCRBY stays exact.
func queueProtection(ctx context.Context, pipe redis.Pipeliner, day, userID string, amount decimal.Decimal) {
	key := fmt.Sprintf(KeyProtection, day)
	pipe.HIncrBy(ctx, key, userID, amount.Shift(models.AmountPlaces).IntPart())
	pipe.Expire(ctx, key, TTLProtection)
}

func (s *RedisService) ProtectionCredits(ctx context.Context, day string) (map[string]decimal.Decimal, error) {
	raw, err := s.client.HGetAll(ctx, fmt.Sprintf(KeyProtection, day)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get protection credits: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(raw))
	for user, v := range raw {
		units, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[user] = decimal.New(units, -models.AmountPlaces)
	}
	return out, nil
}

func (s *RedisService) CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, userID, action)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if count == 1 {
		s.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}

func (s *RedisService) ClearRateLimit(ctx context.Context, userID, action string) error {
	return s.client.Del(ctx, fmt.Sprintf(KeyRateLimit, userID, action)).Err()
}
