package journal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cpamm/internal/amm"
	"cpamm/internal/ledger"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0", want: "0"},
		{in: " 42 ", want: "42"},
		{in: "max", want: new(uint256.Int).SetAllOne().Dec()},
		{in: "MAX", want: new(uint256.Int).SetAllOne().Dec()},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "0x10", wantErr: true},
		{in: "115792089237316195423570985008687907853269984665640564039457584007913129639936", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseAmount("amount", tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidOperation) {
				t.Fatalf("%q: expected invalid operation, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got.Dec() != tc.want {
			t.Fatalf("%q: got %s want %s", tc.in, got.Dec(), tc.want)
		}
	}
}

func TestParseAddress(t *testing.T) {
	if _, err := ParseAddress("actor", alice); err != nil {
		t.Fatalf("valid address: %v", err)
	}
	for _, in := range []string{"", "0x12", "alice"} {
		if _, err := ParseAddress("actor", in); !errors.Is(err, ErrInvalidOperation) {
			t.Fatalf("%q: expected invalid operation, got %v", in, err)
		}
	}
}

func TestReadOperationsKeepsIndexes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	if err := os.WriteFile(path, []byte(testJournal), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ops, err := ReadOperations(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(ops) != 10 {
		t.Fatalf("expected 10 ops, got %d", len(ops))
	}
	if ops[8].Op != "" || ops[9].Op != "remove_liquidity" {
		t.Fatalf("index mismatch: %+v %+v", ops[8], ops[9])
	}

	if err := os.WriteFile(path, []byte("{not json}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadOperations(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		amm.ErrRatioMismatch:          "ratio_mismatch",
		amm.ErrInvalidAccount:         "invalid_account",
		ledger.ErrInsufficientBalance: "insufficient_balance",
		errors.New("disk full"):       "",
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("%v: got %q want %q", err, got, want)
		}
	}

	wrapped := errors.Join(amm.ErrTransferFailed, ledger.ErrInsufficientAllowance)
	if got := ErrorCode(wrapped); got != "transfer_failed" {
		t.Fatalf("transfer failure code: %q", got)
	}
}

func TestStateConversionRoundTrip(t *testing.T) {
	st := amm.State{
		ReserveA:    uint256.NewInt(79),
		ReserveB:    uint256.NewInt(130),
		TotalShares: uint256.NewInt(100),
		Shares: map[common.Address]*uint256.Int{
			common.HexToAddress(alice): uint256.NewInt(100),
			common.HexToAddress(bob):   uint256.NewInt(0),
		},
		Seq: 3,
	}
	back, err := PoolStateFromModel(PoolStateToModel(testPool.Hex(), st))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !back.ReserveA.Eq(st.ReserveA) || !back.TotalShares.Eq(st.TotalShares) || back.Seq != 3 || len(back.Shares) != 2 {
		t.Fatalf("round trip mismatch: %+v", back)
	}

	m := PoolStateToModel(testPool.Hex(), st)
	m.Shares = append(m.Shares, m.Shares[0])
	if _, err := PoolStateFromModel(m); err == nil {
		t.Fatalf("expected duplicate provider error")
	}
}
