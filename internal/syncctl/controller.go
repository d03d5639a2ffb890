// Package syncctl keeps a zone selection model and a spatial surface
// consistent. All writes between the two go through a single-consumer
// message queue guarded against reprocessing the controller's own echoes.
package syncctl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/earthring/zonesync/internal/selection"
	"github.com/earthring/zonesync/internal/surface"
)

// ErrLocked is returned when a host edit asks for a selection that the
// other, already active modality excludes.
var ErrLocked = errors.New("selection locked by the other modality")

// GuardState is the reentrancy guard.
type GuardState int

const (
	Idle GuardState = iota
	Syncing
)

func (g GuardState) String() string {
	if g == Syncing {
		return "syncing"
	}
	return "idle"
}

// Recorder receives the duration of every processed message.
type Recorder interface {
	Record(name string, duration time.Duration)
}

// Stats counts what the controller did with the messages it consumed.
type Stats struct {
	Processed      int64 `json:"processed"`
	Propagations   int64 `json:"propagations"`
	Dropped        int64 `json:"dropped"`
	Ignored        int64 `json:"ignored"`
	Rejected       int64 `json:"rejected"`
	RenderFailures int64 `json:"render_failures"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder reports per-message timings to r.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// Controller mediates every write between a selection model and a surface.
//
// Post may be called from any goroutine. Drain and Run consume the queue and
// must only run on one goroutine at a time; the model is only touched from
// there.
type Controller struct {
	model    *selection.Model
	surface  surface.Surface
	recorder Recorder

	guard       GuardState
	drawing     *bool
	interactive *bool

	// guardFrom is the sequence number of the first message posted after
	// the current guard was taken. Older messages are not echoes.
	guardFrom uint64
	deferred  []queued

	mu          sync.Mutex
	queue       []queued
	seq         uint64
	stats       Stats
	wake        chan struct{}
	unsubscribe func()
}

// New builds a controller for model and surf and applies the initial
// surface affordances. The surface sink is not attached; see SurfaceSink.
func New(model *selection.Model, surf surface.Surface, opts ...Option) *Controller {
	c := &Controller{
		model:   model,
		surface: surf,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.unsubscribe = model.Subscribe(c.onModelChange)
	c.applyAffordances(model.Snapshot())
	return c
}

// Model returns the controlled model. Only use it from the consumer
// goroutine.
func (c *Controller) Model() *selection.Model {
	return c.model
}

// Guard returns the current guard state.
func (c *Controller) Guard() GuardState {
	return c.guard
}

// Stats returns a copy of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// SurfaceSink returns the sink to attach to the surface.
func (c *Controller) SurfaceSink() surface.EventSink {
	return func(e surface.Event) {
		msg, ok := FromSurfaceEvent(e)
		if !ok {
			log.Printf("[Sync] Ignoring unknown surface event %T", e)
			return
		}
		c.Post(msg)
	}
}

// Hydrate pushes the model's current content onto the surface, used when an
// editing session starts from a persisted zone.
func (c *Controller) Hydrate() {
	c.Post(hydrate{})
}

type queued struct {
	msg Message
	seq uint64
}

// Post enqueues a message. It never blocks.
func (c *Controller) Post(msg Message) {
	c.mu.Lock()
	c.seq++
	c.queue = append(c.queue, queued{msg: msg, seq: c.seq})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Drain processes queued messages until the queue is empty, including
// messages enqueued while draining. It returns the number processed.
func (c *Controller) Drain() int {
	n := 0
	for {
		item, ok := c.next()
		if !ok {
			return n
		}
		c.process(item)
		n++
	}
}

// Run drains the queue every time a message is posted until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	for {
		c.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}
	}
}

// Close stops observing the model. Queued messages are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.queue = nil
	c.deferred = nil
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Controller) next() (queued, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return queued{}, false
	}
	item := c.queue[0]
	c.queue[0] = queued{}
	c.queue = c.queue[1:]
	return item, true
}

// requeueDeferred puts messages held back by the guard at the head of the
// queue in their original order.
func (c *Controller) requeueDeferred() {
	if len(c.deferred) == 0 {
		return
	}
	c.mu.Lock()
	c.queue = append(c.deferred, c.queue...)
	c.mu.Unlock()
	c.deferred = nil
}

func (c *Controller) process(item queued) {
	msg := item.msg
	if _, ok := msg.(guardRelease); ok {
		c.guard = Idle
		c.requeueDeferred()
		c.record(msg, time.Now())
		return
	}

	if c.guard == Syncing {
		if isHostMessage(msg) || item.seq < c.guardFrom {
			// Not an echo of the guarded step; run it once the guard is
			// released.
			c.deferred = append(c.deferred, item)
			return
		}
		c.count(func(s *Stats) { s.Dropped++ })
		c.record(msg, time.Now())
		return
	}

	start := time.Now()
	defer c.record(msg, start)

	switch m := msg.(type) {
	case Exec:
		c.count(func(s *Stats) { s.Processed++ })
		if m.Fn != nil {
			m.Fn(c.model)
		}
		return
	case SetDistricts:
		c.count(func(s *Stats) { s.Processed++ })
		m.reply(c.hostSetDistricts(m.IDs))
		return
	case SetPolygon:
		c.count(func(s *Stats) { s.Processed++ })
		m.reply(c.hostSetPolygon(m.Features))
		return
	case ClearSelection:
		c.count(func(s *Stats) { s.Processed++ })
		c.model.Reset()
		return
	}

	c.count(func(s *Stats) { s.Processed++ })

	switch m := msg.(type) {
	case ModelDistrictsChanged:
		c.onModelDistrictsChanged(m.IDs)
	case ModelPolygonChanged:
		c.onModelPolygonChanged(m.Features)
	case SurfaceSelectionChanged:
		c.onSurfaceSelectionChanged(m.IDs)
	case SurfaceGeometryCreated:
		c.onSurfaceGeometryCreated(m.Feature)
	case SurfaceGeometryEdited:
		c.onSurfaceGeometryChanged("edited")
	case SurfaceGeometryDeleted:
		c.onSurfaceGeometryChanged("deleted")
	case hydrate:
		c.onHydrate()
	default:
		log.Printf("[Sync] Unhandled message %s", msg.Kind())
	}
}

func (c *Controller) record(msg Message, start time.Time) {
	if c.recorder != nil {
		c.recorder.Record("sync."+msg.Kind(), time.Since(start))
	}
}

// hostSetDistricts writes a district selection requested by the host UI.
// A district that the current exclusivity does not allow is refused before
// the model is touched.
func (c *Controller) hostSetDistricts(ids []selection.RegionID) error {
	state := c.model.Snapshot()
	ex := selection.Evaluate(state)
	for _, id := range ids {
		if !ex.DistrictSelectable(state, id) {
			c.count(func(s *Stats) { s.Rejected++ })
			log.Printf("[Sync] Rejected host district %d: selection is %s", id, state.Modality())
			return fmt.Errorf("district %d: %w", id, ErrLocked)
		}
	}
	_, err := c.model.SetDistricts(ids)
	return err
}

// hostSetPolygon writes a polygon requested by the host UI. A polygon is
// refused while a district is selected.
func (c *Controller) hostSetPolygon(features []selection.Feature) error {
	if len(features) > 0 && c.model.Exclusivity().HasDistrict {
		c.count(func(s *Stats) { s.Rejected++ })
		log.Printf("[Sync] Rejected host polygon: a district is selected")
		return fmt.Errorf("polygon: %w", ErrLocked)
	}
	_, err := c.model.SetPolygon(features)
	return err
}

// propagate holds the guard for the duration of fn and schedules its release
// behind whatever fn caused to be enqueued.
func (c *Controller) propagate(fn func()) {
	c.mu.Lock()
	c.guardFrom = c.seq + 1
	c.mu.Unlock()
	c.guard = Syncing
	c.count(func(s *Stats) { s.Propagations++ })
	fn()
	c.Post(guardRelease{})
}

func (c *Controller) onModelDistrictsChanged(ids []selection.RegionID) {
	if selection.IDsEqual(c.surface.CurrentSelection(), ids) {
		return
	}
	c.propagate(func() {
		c.surface.ClearSelection()
		if len(ids) > 0 {
			c.surface.ApplySelection(ids)
		}
	})
}

func (c *Controller) onSurfaceSelectionChanged(ids []selection.RegionID) {
	state := c.model.Snapshot()
	ex := selection.Evaluate(state)
	if ex.HasCustom {
		c.count(func(s *Stats) { s.Ignored++ })
		log.Printf("[Sync] Ignoring district selection %v: custom polygon is active", ids)
		return
	}

	if len(ids) == 0 {
		if !ex.HasDistrict {
			return
		}
		c.propagate(func() {
			c.writeDistricts(nil)
		})
		return
	}

	chosen := []selection.RegionID{reduceSelection(ids)}
	needModel := !selection.IDsEqual(state.DistrictIDs, chosen)
	needSurface := len(ids) > 1
	if !needModel && !needSurface {
		return
	}
	c.propagate(func() {
		if needSurface {
			c.surface.ApplySelection(chosen)
		}
		if needModel {
			c.writeDistricts(chosen)
		}
	})
}

// reduceSelection picks the district that wins when the surface reports more
// than one: the last one clicked.
func reduceSelection(ids []selection.RegionID) selection.RegionID {
	return ids[len(ids)-1]
}

func (c *Controller) onSurfaceGeometryCreated(feature selection.Feature) {
	if c.model.Exclusivity().HasDistrict {
		c.count(func(s *Stats) { s.Rejected++ })
		log.Printf("[Sync] Rejected geometry %q: a district is selected", feature.ID)
		c.propagate(func() {
			c.surface.SetDrawnFeatures(withoutFeature(c.surface.DrawnFeatures(), feature))
		})
		return
	}

	retained := c.surface.DrawnFeatures()
	single := []selection.Feature{feature}
	needSurface := !selection.FeaturesEqual(retained, single)
	needModel := !selection.FeaturesEqual(c.model.Snapshot().PolygonFeatures, single)
	if !needSurface && !needModel {
		return
	}
	c.propagate(func() {
		if needSurface {
			c.surface.SetDrawnFeatures(single)
		}
		if needModel {
			c.writePolygon(single)
		}
	})
}

func (c *Controller) onSurfaceGeometryChanged(action string) {
	features := c.surface.DrawnFeatures()
	needSurface := false

	if c.model.Exclusivity().HasDistrict && len(features) > 0 {
		c.count(func(s *Stats) { s.Rejected++ })
		log.Printf("[Sync] Rejected %s geometry: a district is selected", action)
		c.propagate(func() {
			c.surface.ClearDrawnFeatures()
		})
		return
	}

	if len(features) > 1 {
		features = features[len(features)-1:]
		needSurface = true
	}
	if !needSurface && selection.FeaturesEqual(c.model.Snapshot().PolygonFeatures, features) {
		return
	}
	c.propagate(func() {
		if needSurface {
			c.surface.SetDrawnFeatures(features)
		}
		c.writePolygon(features)
	})
}

func (c *Controller) onModelPolygonChanged(features []selection.Feature) {
	if selection.FeaturesEqual(c.surface.DrawnFeatures(), features) {
		return
	}
	c.propagate(func() {
		c.renderFeatures(features)
	})
}

// onHydrate replaces everything the surface shows with the model content in
// a single guarded step.
func (c *Controller) onHydrate() {
	snap := c.model.Snapshot()
	log.Printf("[Sync] Hydrating surface: districts=%v features=%d", snap.DistrictIDs, len(snap.PolygonFeatures))
	c.propagate(func() {
		c.surface.ClearSelection()
		if len(snap.DistrictIDs) > 0 {
			c.surface.ApplySelection(snap.DistrictIDs)
		}
		c.renderFeatures(snap.PolygonFeatures)
	})
}

// renderFeatures redraws the drawn layer. Features the surface cannot render
// are logged and skipped.
func (c *Controller) renderFeatures(features []selection.Feature) {
	c.surface.ClearDrawnFeatures()
	for _, f := range features {
		if err := c.surface.DrawFeature(f); err != nil {
			var renderErr *surface.RenderError
			if errors.As(err, &renderErr) {
				log.Printf("[Sync] Skipping feature %q: %s", f.ID, renderErr.Reason)
			} else {
				log.Printf("[Sync] Surface failed to draw feature %q: %v", f.ID, err)
			}
			c.count(func(s *Stats) { s.RenderFailures++ })
		}
	}
}

func (c *Controller) writeDistricts(ids []selection.RegionID) {
	if _, err := c.model.SetDistricts(ids); err != nil {
		log.Printf("[Sync] Failed to write districts %v: %v", ids, err)
	}
}

func (c *Controller) writePolygon(features []selection.Feature) {
	if _, err := c.model.SetPolygon(features); err != nil {
		log.Printf("[Sync] Failed to write polygon: %v", err)
	}
}

// onModelChange runs synchronously inside every model write.
func (c *Controller) onModelChange(change selection.Change) {
	c.applyAffordances(change.State)
	switch change.Field {
	case selection.FieldDistricts:
		c.Post(ModelDistrictsChanged{IDs: change.State.DistrictIDs})
	case selection.FieldPolygon:
		c.Post(ModelPolygonChanged{Features: change.State.PolygonFeatures})
	}
}

// applyAffordances toggles the drawing tool and district interaction to
// match the exclusivity of state. Only changed values are written.
func (c *Controller) applyAffordances(state selection.State) {
	ex := selection.Evaluate(state)
	if drawing := ex.DrawingEnabled(); c.drawing == nil || *c.drawing != drawing {
		c.drawing = &drawing
		c.surface.EnableDrawing(drawing)
	}
	if interactive := ex.SelectionInteractive(); c.interactive == nil || *c.interactive != interactive {
		c.interactive = &interactive
		c.surface.SetInteractive(interactive)
	}
}

func (c *Controller) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

func withoutFeature(list []selection.Feature, f selection.Feature) []selection.Feature {
	out := make([]selection.Feature, 0, len(list))
	for _, existing := range list {
		if existing.ID == f.ID && (f.ID != "" || existing.Equal(f)) {
			continue
		}
		out = append(out, existing)
	}
	return out
}
