package studio

import (
	"context"
	"fmt"

	"github.com/msageha/psstudio/internal/editor"
	"github.com/msageha/psstudio/internal/events"
	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/internal/overrides"
)

// The editor operations below lock the orchestrator so that an edit can never land
// between a selection change and the editor refocus.

func (o *Orchestrator) SetField(key string, value any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.editor.SetFormField(key, value)
}

func (o *Orchestrator) SetNestedField(parent, child string, value any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.editor.SetNestedField(parent, child, value)
}

func (o *Orchestrator) SetJSONText(text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.editor.SetJSONText(text)
}

func (o *Orchestrator) SetEditorMode(mode editor.Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.editor.SetMode(mode)
}

func (o *Orchestrator) ResetEditor() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.editor.Reset()
}

func (o *Orchestrator) FlushEditor() error {
	return o.editor.Flush()
}

func (o *Orchestrator) EditorSnapshot() editor.Snapshot {
	return o.editor.Snapshot()
}

// Configuration overrides. Every successful change is announced on the bus.

func (o *Orchestrator) BeginConfigEdit(key string) error {
	return o.config.BeginEdit(key)
}

func (o *Orchestrator) CancelConfigEdit() {
	o.config.CancelEdit()
}

func (o *Orchestrator) SetConfigOverride(key, raw string) error {
	if err := o.config.SetOverride(key, raw); err != nil {
		return err
	}
	o.publish(events.EventConfigChanged, map[string]any{"key": key, "action": "set"})
	return nil
}

// EditConfig opens key, applies raw and closes it in one step.
func (o *Orchestrator) EditConfig(key, raw string) error {
	if err := o.config.BeginEdit(key); err != nil {
		return err
	}
	return o.SetConfigOverride(key, raw)
}

func (o *Orchestrator) ResetConfigKey(key string) error {
	if err := o.config.ResetKeyToServer(key); err != nil {
		return err
	}
	o.publish(events.EventConfigChanged, map[string]any{"key": key, "action": "reset"})
	return nil
}

func (o *Orchestrator) ResetAllConfig() error {
	if err := o.config.ResetAllToServer(); err != nil {
		return err
	}
	o.publish(events.EventConfigChanged, map[string]any{"action": "reset_all"})
	return nil
}

func (o *Orchestrator) ClearLocalConfig(confirmed bool) error {
	if err := o.config.ClearLocal(confirmed); err != nil {
		return err
	}
	o.publish(events.EventConfigChanged, map[string]any{"action": "clear"})
	return nil
}

// RefreshServerConfig reloads the baseline from the server. Local overrides are kept.
func (o *Orchestrator) RefreshServerConfig(ctx context.Context) error {
	if o.fetcher == nil {
		return &model.PreconditionError{Message: "no configuration server configured"}
	}
	values, err := o.fetcher.FetchDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("refresh server config: %w", err)
	}
	o.config.LoadFromServer(values)
	o.publish(events.EventConfigChanged, map[string]any{"action": "refresh"})
	return nil
}

func (o *Orchestrator) ConfigStatus() overrides.Status {
	return o.config.Status()
}

func (o *Orchestrator) EffectiveConfig() map[string]any {
	return o.config.Effective()
}
