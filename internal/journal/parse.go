package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cpamm/internal/model"
)

// ErrInvalidOperation marks a journal line the runner cannot interpret.
var ErrInvalidOperation = errors.New("invalid operation")

const maxLineSize = 1 << 20

// ReadOperations loads a JSONL operation journal. Blank lines are skipped but
// still count towards the operation index of later lines.
func ReadOperations(path string) ([]model.Operation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var ops []model.Operation
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			ops = append(ops, model.Operation{})
			continue
		}
		var op model.Operation
		if err := json.Unmarshal([]byte(text), &op); err != nil {
			return nil, fmt.Errorf("parse journal line %d: %w", line, err)
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return ops, nil
}

// ParseAddress converts a hex address, rejecting malformed input.
func ParseAddress(field, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", ErrInvalidOperation, field, input)
	}
	return common.HexToAddress(input), nil
}

// ParseAmount converts a base-10 amount. "max" yields 2^256-1.
func ParseAmount(field, input string) (*uint256.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidOperation, field)
	}
	if strings.EqualFold(input, "max") {
		return new(uint256.Int).SetAllOne(), nil
	}
	v, err := uint256.FromDecimal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidOperation, field, input, err)
	}
	return v, nil
}
