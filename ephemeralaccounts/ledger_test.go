package ephemeralaccounts

import (
	"errors"
	"math/big"
	"testing"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/api"
)

func TestPaymentLedger(t *testing.T) {
	l := NewPaymentLedger(nil)

	assets := make([]types.Address, api.MaxPayments+1)
	for i := range assets {
		assets[i] = randomAddress()
	}

	for i := 0; i < api.MaxPayments; i++ {
		if err := l.Insert(assets[i], big.NewInt(int64(i))); err != nil {
			t.Fatal(err)
		} else if l.Count() != i+1 {
			t.Fatalf("unexpected count %v", l.Count())
		} else if !l.Contains(assets[i]) {
			t.Fatal("asset missing")
		}

		// duplicates are rejected before the capacity is checked
		if err := l.Insert(assets[i], big.NewInt(1)); !errors.Is(err, api.ErrDuplicateAsset) {
			t.Fatal("expected ErrDuplicateAsset, got", err)
		}
	}

	if err := l.Insert(assets[api.MaxPayments], big.NewInt(1)); !errors.Is(err, api.ErrTooManyPayments) {
		t.Fatal("expected ErrTooManyPayments, got", err)
	} else if l.Contains(assets[api.MaxPayments]) {
		t.Fatal("rejected asset was inserted")
	} else if l.Count() != api.MaxPayments {
		t.Fatalf("unexpected count %v", l.Count())
	}

	// snapshots are ordered copies
	snapshot := l.Snapshot()
	for i, p := range snapshot {
		if p.Asset != assets[i] || p.Amount.Int64() != int64(i) {
			t.Fatal("unexpected record", i, p)
		}
	}
	snapshot[0].Amount.SetInt64(1000)
	if l.Snapshot()[0].Amount.Int64() != 0 {
		t.Fatal("snapshot shares memory with the ledger")
	}
}

func TestPaymentLedgerSeed(t *testing.T) {
	amount := big.NewInt(5)
	records := []api.PaymentRecord{{Asset: randomAddress(), Amount: amount}}
	l := NewPaymentLedger(records)

	amount.SetInt64(10)
	if l.Snapshot()[0].Amount.Int64() != 5 {
		t.Fatal("ledger shares memory with its seed")
	} else if err := l.Insert(records[0].Asset, big.NewInt(1)); !errors.Is(err, api.ErrDuplicateAsset) {
		t.Fatal("expected ErrDuplicateAsset, got", err)
	}
}

func TestSweepHash(t *testing.T) {
	id := api.NewAccountID()
	dest := randomAddress()

	h := SweepHash(id, dest, 0)
	if h != SweepHash(id, dest, 0) {
		t.Fatal("hash isn't deterministic")
	} else if h == SweepHash(id, dest, 1) {
		t.Fatal("nonce isn't bound")
	} else if h == SweepHash(id, randomAddress(), 0) {
		t.Fatal("destination isn't bound")
	} else if h == SweepHash(api.NewAccountID(), dest, 0) {
		t.Fatal("account isn't bound")
	}

	sk := types.GeneratePrivateKey()
	sig := SignSweep(sk, id, dest, 3)
	if !(Ed25519Verifier{}).VerifyHash(sk.PublicKey(), SweepHash(id, dest, 3), sig) {
		t.Fatal("signature doesn't verify")
	}
}
