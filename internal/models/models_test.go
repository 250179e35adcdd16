package models_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeplay-backend/internal/models"
)

func TestBetDataValidate(t *testing.T) {
	bet := &models.BetData{
		GameType:     models.GameTypeCash,
		GameVariant:  models.VariantDice,
		BetAmount:    decimal.NewFromInt(10),
		PickedNumber: json.RawMessage(`4`),
	}

	pick, err := bet.Validate(8)
	require.NoError(t, err)
	require.NotNil(t, pick.Dice)
	assert.Equal(t, 4, pick.Dice.Number)
	assert.Nil(t, pick.Spin)

	invalid := &models.BetData{
		GameType:     "invalid",
		GameVariant:  models.VariantDice,
		BetAmount:    decimal.Zero,
		PickedNumber: json.RawMessage(`4`),
	}
	_, err = invalid.Validate(8)
	assert.Error(t, err)
}

func TestParsePick(t *testing.T) {
	cases := []struct {
		name    string
		variant models.Variant
		raw     string
		wantErr bool
	}{
		{"dice in range", models.VariantDice, `8`, false},
		{"dice zero", models.VariantDice, `0`, true},
		{"dice fractional", models.VariantDice, `4.5`, true},
		{"spin single", models.VariantSpin, `3`, false},
		{"spin set", models.VariantSpin, `[0,2,5]`, false},
		{"spin duplicate", models.VariantSpin, `[1,1]`, true},
		{"spin out of range", models.VariantSpin, `[8]`, true},
		{"spin every slot", models.VariantSpin, `[0,1,2,3,4,5,6,7]`, true},
		{"matrix low", models.VariantMatrix, `1`, false},
		{"matrix too high", models.VariantMatrix, `96`, true},
		{"crash target", models.VariantCrash, `2.5`, false},
		{"crash quoted", models.VariantCrash, `"10.00"`, false},
		{"crash below one", models.VariantCrash, `0.99`, true},
		{"crash precision", models.VariantCrash, `1.005`, true},
		{"missing", models.VariantDice, `null`, true},
		{"unknown variant", models.Variant("roulette"), `1`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pick, err := models.ParsePick(tc.variant, json.RawMessage(tc.raw), 8)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.variant, pick.Variant)
		})
	}
}

func TestGrandTotalExcludesPractice(t *testing.T) {
	w := models.NewWallets()
	w[models.WalletGame] = decimal.NewFromInt(10)
	w[models.WalletWinners] = decimal.RequireFromString("2.5")
	w[models.WalletJackpotBuffer] = decimal.RequireFromString("0.5")
	w[models.WalletPractice] = decimal.NewFromInt(1000)

	assert.True(t, decimal.NewFromInt(13).Equal(models.GrandTotal(w)))
	assert.True(t, models.GrandTotal(models.Wallets{}).IsZero())
}

func TestAccountCloneIsDeep(t *testing.T) {
	acct, err := models.NewAccount("u1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, acct.ClientSeed)

	c := acct.Clone()
	c.Wallets[models.WalletGame] = decimal.NewFromInt(5)
	c.Activation.Capabilities = append(c.Activation.Capabilities, models.CapWithdrawCash)

	assert.True(t, acct.Wallets.Get(models.WalletGame).IsZero())
	assert.Empty(t, acct.Activation.Capabilities)
}

func TestRoundProgress(t *testing.T) {
	r := &models.JackpotRound{
		TicketPrice:  decimal.NewFromInt(1),
		TotalTickets: 200,
		TicketsSold:  50,
		PayoutRatio:  decimal.RequireFromString("0.9"),
	}
	assert.Equal(t, "25", r.Progress().String())
	assert.Equal(t, "45", r.Pot().String())
}
