package engine

import (
	"context"
	"errors"
	"log"

	"talentfolio/api/internal/forms"
	"talentfolio/api/internal/notify"
)

// Loader is the read side of the engine: it fetches the remote section
// document, maps it into form state, and re-fetches whenever another editing
// surface publishes a non-silent update for the same (user, section).
// Concurrent loads are not serialized; the last state delivered wins.
type Loader struct {
	userID  string
	def     forms.SectionDef
	store   DocumentStore
	bus     *notify.Bus
	sub     *notify.Subscription
	onState func(forms.FormState)
}

// NewLoader creates a loader. onState receives every freshly mapped form
// state, including reloads; it may be nil.
func NewLoader(userID string, def forms.SectionDef, store DocumentStore, bus *notify.Bus, onState func(forms.FormState)) *Loader {
	return &Loader{userID: userID, def: def, store: store, bus: bus, onState: onState}
}

// Load fetches and maps the current remote document. A missing user or
// section context short-circuits to nil without contacting the store; a
// missing document maps to pure type defaults.
func (l *Loader) Load(ctx context.Context) (forms.FormState, error) {
	if l.userID == "" || l.def.ID == "" {
		return nil, nil
	}
	doc, err := l.store.GetProfileSection(ctx, l.userID, l.def.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	form := forms.ToForm(doc, l.def)
	if l.onState != nil {
		l.onState(form)
	}
	return form, nil
}

// Start performs the initial load and subscribes for non-silent updates.
func (l *Loader) Start(ctx context.Context) (forms.FormState, error) {
	form, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	if l.bus != nil && l.sub == nil {
		l.sub = l.bus.Subscribe(func(u notify.Update) {
			if u.Silent || u.UserID != l.userID || u.SectionID != l.def.ID {
				return
			}
			if _, err := l.Load(context.Background()); err != nil {
				log.Printf("engine: reload of section %s failed: %v", l.def.ID, err)
			}
		})
	}
	return form, nil
}

// Close releases the bus subscription.
func (l *Loader) Close() {
	if l.sub != nil {
		l.sub.Cancel()
		l.sub = nil
	}
}
