package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		allowed bool
	}{
		{"PENDING 可以进入 PROCESSING", TransactionStatusPending, TransactionStatusProcessing, true},
		{"PENDING 可以直接失败", TransactionStatusPending, TransactionStatusFailed, true},
		{"PENDING 可以取消", TransactionStatusPending, TransactionStatusCancelled, true},
		{"PROCESSING 可以完成", TransactionStatusProcessing, TransactionStatusCompleted, true},
		{"PROCESSING 可以失败", TransactionStatusProcessing, TransactionStatusFailed, true},
		{"COMPLETED 只能被冲正", TransactionStatusCompleted, TransactionStatusReversed, true},

		{"PENDING 不能跳过 PROCESSING 直接完成", TransactionStatusPending, TransactionStatusCompleted, false},
		{"PROCESSING 不能回退到 PENDING", TransactionStatusProcessing, TransactionStatusPending, false},
		{"COMPLETED 不能变成失败", TransactionStatusCompleted, TransactionStatusFailed, false},
		{"FAILED 是终态", TransactionStatusFailed, TransactionStatusProcessing, false},
		{"FAILED 不能完成", TransactionStatusFailed, TransactionStatusCompleted, false},
		{"CANCELLED 是终态", TransactionStatusCancelled, TransactionStatusProcessing, false},
		{"REVERSED 是终态", TransactionStatusReversed, TransactionStatusCompleted, false},
		{"未知状态不允许任何流转", "UNKNOWN", TransactionStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransitionTo(tt.from, tt.to))
		})
	}
}
