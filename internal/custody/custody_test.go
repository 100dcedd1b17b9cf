package custody

import (
	"context"
	"math/big"
	"testing"
)

func TestParseWeiPerSat(t *testing.T) {
	rate, err := ParseWeiPerSat("")
	if err != nil {
		t.Fatalf("default rate: %v", err)
	}
	if rate.String() != DefaultWeiPerSat {
		t.Fatalf("unexpected default rate: %s", rate)
	}

	if _, err := ParseWeiPerSat("abc"); err == nil {
		t.Fatal("expected error for non-numeric rate")
	}
	if _, err := ParseWeiPerSat("-5"); err == nil {
		t.Fatal("expected error for negative rate")
	}
}

func TestSatsToWei(t *testing.T) {
	rate, _ := ParseWeiPerSat(DefaultWeiPerSat)
	wei := SatsToWei(700, rate)

	expected := new(big.Int).Mul(big.NewInt(700), rate)
	if wei.Cmp(expected) != 0 {
		t.Fatalf("expected %s wei, got %s", expected, wei)
	}
}

func TestResolveFeeCaps(t *testing.T) {
	fallbackTip := big.NewInt(1_500_000_000)
	fallbackFee := big.NewInt(30_000_000_000)

	t.Run("chain values win", func(t *testing.T) {
		tip, fee := resolveFeeCaps(big.NewInt(2_000_000_000), big.NewInt(10_000_000_000), fallbackTip, fallbackFee)
		if tip.Int64() != 2_000_000_000 {
			t.Fatalf("unexpected tip cap: %s", tip)
		}
		if fee.Int64() != 22_000_000_000 {
			t.Fatalf("expected tip+2*base, got %s", fee)
		}
	})

	t.Run("nil base fee falls back", func(t *testing.T) {
		tip, fee := resolveFeeCaps(big.NewInt(2_000_000_000), nil, fallbackTip, fallbackFee)
		if tip.Int64() != 2_000_000_000 {
			t.Fatalf("unexpected tip cap: %s", tip)
		}
		if fee.Cmp(fallbackFee) != 0 {
			t.Fatalf("expected fallback fee cap, got %s", fee)
		}
	})

	t.Run("nil tip falls back", func(t *testing.T) {
		tip, fee := resolveFeeCaps(nil, nil, fallbackTip, fallbackFee)
		if tip.Cmp(fallbackTip) != 0 {
			t.Fatalf("expected fallback tip cap, got %s", tip)
		}
		if fee.Cmp(fallbackFee) != 0 {
			t.Fatalf("expected fallback fee cap, got %s", fee)
		}
	})

	t.Run("fee cap never below tip cap", func(t *testing.T) {
		hugeTip := big.NewInt(100_000_000_000)
		tip, fee := resolveFeeCaps(hugeTip, nil, fallbackTip, fallbackFee)
		if fee.Cmp(tip) < 0 {
			t.Fatalf("fee cap %s below tip cap %s", fee, tip)
		}
	})
}

func TestParseWeiAmount(t *testing.T) {
	amount, err := parseWeiAmount("", defaultMaxFeeWei)
	if err != nil {
		t.Fatalf("default amount: %v", err)
	}
	if amount.String() != defaultMaxFeeWei {
		t.Fatalf("unexpected default: %s", amount)
	}

	if _, err := parseWeiAmount("abc", defaultMaxFeeWei); err == nil {
		t.Fatal("expected error for non-numeric amount")
	}
	if _, err := parseWeiAmount("-1", defaultMaxFeeWei); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestMockSignerDeterministic(t *testing.T) {
	signer := NewMockSigner()
	payment := Payment{IntentID: "intent-1", Recipient: "0x1", AmountSats: 700}

	first, err := signer.SignAndSubmit(context.Background(), payment)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	second, err := signer.SignAndSubmit(context.Background(), payment)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if first != second {
		t.Fatalf("mock txids should be deterministic: %s vs %s", first, second)
	}
	if len(signer.Payments()) != 2 {
		t.Fatalf("expected 2 recorded payments, got %d", len(signer.Payments()))
	}
}
