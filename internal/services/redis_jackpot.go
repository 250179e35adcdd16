package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/models"
)

// Round counters live in a hash next to the round document so the Lua
// scripts can check and bump them without decoding JSON.
var reserveTicketsScript = redis.NewScript(`
	local state = KEYS[1]
	local entries = KEYS[2]
	local qty = tonumber(ARGV[1])

	local status = redis.call("HGET", state, "status")
	if not status then
		return -3
	end
	if status ~= "open" then
		return -1
	end

	local sold = tonumber(redis.call("HGET", state, "sold"))
	local total = tonumber(redis.call("HGET", state, "total"))
	if sold + qty > total then
		return -2
	end

	redis.call("HSET", entries, ARGV[2], ARGV[3])
	return redis.call("HINCRBY", state, "sold", qty)
`)

var releaseTicketsScript = redis.NewScript(`
	local state = KEYS[1]
	local entries = KEYS[2]

	if redis.call("HGET", state, "status") ~= "open" then
		return 0
	end
	if redis.call("HDEL", entries, ARGV[1]) == 0 then
		return 0
	end
	redis.call("HINCRBY", state, "sold", -tonumber(ARGV[2]))
	return 1
`)

var transitionRoundScript = redis.NewScript(`
	if redis.call("HGET", KEYS[1], "status") == ARGV[1] then
		redis.call("HSET", KEYS[1], "status", ARGV[2])
		return 1
	end
	return 0
`)

func roundKeys(id string) []string {
	return []string{fmt.Sprintf(KeyRoundState, id), fmt.Sprintf(KeyRoundEntries, id)}
}

func (s *RedisService) CreateRound(ctx context.Context, r *models.JackpotRound) error {
	doc := *r
	doc.Entries = nil
	data, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}

	ok, err := s.client.SetNX(ctx, fmt.Sprintf(KeyRound, r.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	if !ok {
		return fmt.Errorf("round %s already exists", r.ID)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, fmt.Sprintf(KeyRoundState, r.ID),
		"status", string(r.Status),
		"sold", r.TicketsSold,
		"total", r.TotalTickets,
	)
	pipe.Set(ctx, KeyCurrentRound, r.ID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to open round: %w", err)
	}
	return nil
}

func (s *RedisService) GetRound(ctx context.Context, id string) (*models.JackpotRound, error) {
	pipe := s.client.Pipeline()
	docCmd := pipe.Get(ctx, fmt.Sprintf(KeyRound, id))
	stateCmd := pipe.HGetAll(ctx, fmt.Sprintf(KeyRoundState, id))
	entriesCmd := pipe.HVals(ctx, fmt.Sprintf(KeyRoundEntries, id))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}

	data, err := docCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.New(apperr.CodeNotFound, "round %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}

	var r models.JackpotRound
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal round: %w", err)
	}

	state := stateCmd.Val()
	if status, ok := state["status"]; ok {
		r.Status = models.RoundStatus(status)
	}
	if sold, err := strconv.Atoi(state["sold"]); err == nil {
		r.TicketsSold = sold
	}

	r.Entries = make([]models.TicketEntry, 0, len(entriesCmd.Val()))
	for _, raw := range entriesCmd.Val() {
		var e models.TicketEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		r.Entries = append(r.Entries, e)
	}
	sort.Slice(r.Entries, func(i, j int) bool { return r.Entries[i].PurchaseID < r.Entries[j].PurchaseID })

	return &r, nil
}

func (s *RedisService) CurrentRoundID(ctx context.Context) (string, error) {
	id, err := s.client.Get(ctx, KeyCurrentRound).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get current round: %w", err)
	}
	return id, nil
}

func (s *RedisService) ReserveTickets(ctx context.Context, roundID string, entry models.TicketEntry) (int, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal ticket entry: %w", err)
	}

	sold, err := reserveTicketsScript.Run(ctx, s.client, roundKeys(roundID), entry.Quantity, entry.PurchaseID, data).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve tickets: %w", err)
	}

	switch sold {
	case -1:
		return 0, apperr.New(apperr.CodeRoundNotOpen, "round %s is not open", roundID)
	case -2:
		return 0, apperr.New(apperr.CodeRoundCapacity, "not enough tickets left in round %s", roundID)
	case -3:
		return 0, apperr.New(apperr.CodeNotFound, "round %s not found", roundID)
	}
	return sold, nil
}

func (s *RedisService) ReleaseTickets(ctx context.Context, roundID, purchaseID string) (bool, error) {
	raw, err := s.client.HGet(ctx, fmt.Sprintf(KeyRoundEntries, roundID), purchaseID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read ticket entry: %w", err)
	}

	var e models.TicketEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return false, fmt.Errorf("failed to unmarshal ticket entry: %w", err)
	}

	n, err := releaseTicketsScript.Run(ctx, s.client, roundKeys(roundID), purchaseID, e.Quantity).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release tickets: %w", err)
	}
	return n == 1, nil
}

func (s *RedisService) TransitionRound(ctx context.Context, id string, from, to models.RoundStatus) (bool, error) {
	n, err := transitionRoundScript.Run(ctx, s.client, []string{fmt.Sprintf(KeyRoundState, id)}, string(from), string(to)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to transition round: %w", err)
	}
	return n == 1, nil
}

func (s *RedisService) SaveRoundResult(ctx context.Context, r *models.JackpotRound) error {
	doc := *r
	doc.Entries = nil
	data, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(KeyRound, r.ID), data, 0)
	pipe.HSet(ctx, fmt.Sprintf(KeyRoundState, r.ID), "status", string(r.Status))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save round result: %w", err)
	}
	return nil
}
