// Package executor - координатор исполнения арбитражных циклов:
// подтверждение оператором, ревалидация цен, последовательное
// исполнение ног и откат при сбоях.
package executor

import (
	"context"

	"cryptoarb/internal/models"
)

// Approver - канал подтверждения возможности оператором.
// Approve блокируется до решения либо отмены контекста.
type Approver interface {
	Approve(ctx context.Context, d *models.OpportunityDetail) (bool, error)
}

// AutoApprover подтверждает всё без участия оператора.
// Используется в тестах и в полностью автоматическом режиме.
type AutoApprover struct{}

// Approve всегда отвечает согласием
func (AutoApprover) Approve(context.Context, *models.OpportunityDetail) (bool, error) {
	return true, nil
}
