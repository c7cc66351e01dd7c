package engine

import (
	"github.com/murk-sim/murk"
	"github.com/murk-sim/murk/internal/arena"
)

// ApplyContext is handed to a CommandApplier method for one command's
// effect application, during ingress application (§4.4 step 2, before
// propagators run).
type ApplyContext struct {
	Write *arena.WriteView
	Tick  murk.TickId
}

// CommandApplier dispatches the world-specific payload variants (Move,
// Spawn, Despawn, Custom) that the core has no built-in semantics for
// (§4.4 step 2). It is registered once at configuration time. A command
// whose payload type has no registered handler — either because no
// Applier was configured at all, or because the configured one declines a
// specific custom TypeID — fails with a typed receipt; it is never
// silently accepted (§4.4).
type CommandApplier interface {
	ApplyMove(ctx *ApplyContext, p *murk.MovePayload) error
	ApplySpawn(ctx *ApplyContext, p *murk.SpawnPayload) error
	ApplyDespawn(ctx *ApplyContext, p *murk.DespawnPayload) error
	ApplyCustom(ctx *ApplyContext, p *murk.CustomPayload) error
}
