package coverage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Config holds the initial parameters and timings of a Controller.
type Config struct {
	Source     SourceID
	Indicators Indicators
	Display    DisplayOptions

	// InputDelay debounces the table list and collection fetches.
	InputDelay time.Duration
	// MapDelay debounces the map data fetch.
	MapDelay time.Duration
	// FetchTimeout bounds each collaborator call. Zero means no timeout.
	FetchTimeout time.Duration

	Logger *zap.Logger
}

// State is a point-in-time copy of everything a Controller owns.
type State struct {
	Source     SourceID       `json:"source" doc:"Selected dataset"`
	Indicators Indicators     `json:"indicators" doc:"Latitude and longitude columns"`
	Display    DisplayOptions `json:"display" doc:"Map display options"`

	Tables     []string    `json:"tables" doc:"Tables of the selected parent entity"`
	Collection *Collection `json:"collection" doc:"Schema of the selected table"`
	MapData    *MapData    `json:"mapData" doc:"Map data for the display options"`

	TablesStatus     FetchStatus `json:"tablesStatus" doc:"Table list fetch status"`
	CollectionStatus FetchStatus `json:"collectionStatus" doc:"Collection fetch status"`
	MapStatus        FetchStatus `json:"mapStatus" doc:"Map data fetch status"`
}

// Status returns the fetch status for kind.
func (s State) Status(kind FetchKind) FetchStatus {
	switch kind {
	case FetchTables:
		return s.TablesStatus
	case FetchCollection:
		return s.CollectionStatus
	default:
		return s.MapStatus
	}
}

func (s *State) status(kind FetchKind) *FetchStatus {
	switch kind {
	case FetchTables:
		return &s.TablesStatus
	case FetchCollection:
		return &s.CollectionStatus
	default:
		return &s.MapStatus
	}
}

// MapOptions returns the map fetch input derived from the state.
func (s State) MapOptions() MapOptions {
	return MapOptions{
		Region:             s.Display.Region,
		Subregion:          s.Display.Subregion,
		LatitudeIndicator:  s.Indicators.Latitude,
		LongitudeIndicator: s.Indicators.Longitude,
		Roads:              slices.Clone(s.Display.Roads),
	}
}

func (s State) clone() State {
	s.Display = s.Display.clone()
	s.Tables = slices.Clone(s.Tables)
	s.Collection = s.Collection.clone()
	return s
}

// Controller owns the coverage parameters of one session and keeps the table
// list, collection and map data in step with them.
//
// Every parameter change cancels and re-arms the debounced fetches whose
// inputs changed. Each fetch kind carries a sequence number that moves on
// when a fetch starts and when its inputs change; a result is applied only
// if the number is unchanged when it arrives.
type Controller struct {
	catalog Catalog
	maps    MapSource
	timeout time.Duration
	log     *zap.Logger

	mu        sync.Mutex
	state     State
	seq       map[FetchKind]uint64
	inflight  map[FetchKind]context.CancelFunc
	sched     map[FetchKind]*Debouncer
	listeners map[int]func(State)
	nextID    int
	closed    bool
}

// New creates a controller and arms its three fetches.
func New(cfg Config, catalog Catalog, maps MapSource) *Controller {
	if cfg.InputDelay <= 0 {
		cfg.InputDelay = DefaultInputDelay
	}
	if cfg.MapDelay <= 0 {
		cfg.MapDelay = DefaultMapDelay
	}
	log := cfg.Logger
	if log == nil {
		log = zap.L().Named("coverage")
	}

	c := &Controller{
		catalog: catalog,
		maps:    maps,
		timeout: cfg.FetchTimeout,
		log:     log,
		state: State{
			Source:           cfg.Source,
			Indicators:       cfg.Indicators,
			Display:          cfg.Display.clone(),
			Tables:           []string{},
			TablesStatus:     FetchStatus{State: StateIdle},
			CollectionStatus: FetchStatus{State: StateIdle},
			MapStatus:        FetchStatus{State: StateIdle},
		},
		seq:       make(map[FetchKind]uint64, len(FetchKinds)),
		inflight:  make(map[FetchKind]context.CancelFunc, len(FetchKinds)),
		listeners: make(map[int]func(State)),
	}
	c.sched = map[FetchKind]*Debouncer{
		FetchTables:     NewDebouncer(cfg.InputDelay, c.fetchTables),
		FetchCollection: NewDebouncer(cfg.InputDelay, c.fetchCollection),
		FetchMap:        NewDebouncer(cfg.MapDelay, c.fetchMap),
	}
	for _, kind := range FetchKinds {
		c.sched[kind].Trigger()
	}
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe registers fn to be called with a fresh snapshot after every state
// change. The returned func removes the subscription.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SetSource replaces the dataset identifier.
func (c *Controller) SetSource(src SourceID) {
	c.update(func(s *State) { s.Source = src })
}

func (c *Controller) SetOwner(owner string) {
	c.update(func(s *State) { s.Source.Owner = owner })
}

func (c *Controller) SetParentEntity(parent string) {
	c.update(func(s *State) { s.Source.ParentEntity = parent })
}

func (c *Controller) SetTable(table string) {
	c.update(func(s *State) { s.Source.Table = table })
}

// SetIndicators replaces both indicator columns.
func (c *Controller) SetIndicators(ind Indicators) {
	c.update(func(s *State) { s.Indicators = ind })
}

func (c *Controller) SetLatitudeIndicator(name string) {
	c.update(func(s *State) { s.Indicators.Latitude = name })
}

func (c *Controller) SetLongitudeIndicator(name string) {
	c.update(func(s *State) { s.Indicators.Longitude = name })
}

// SetDisplay replaces all display options. Only region, subregion and roads
// feed the map fetch; the rest are styling.
func (c *Controller) SetDisplay(d DisplayOptions) {
	d = d.clone()
	c.update(func(s *State) { s.Display = d })
}

func (c *Controller) SetRegion(region string) {
	c.update(func(s *State) { s.Display.Region = region })
}

func (c *Controller) SetSubregion(subregion string) {
	c.update(func(s *State) { s.Display.Subregion = subregion })
}

// SetRoads replaces the road class filter with a copy of roads.
func (c *Controller) SetRoads(roads []string) {
	roads = slices.Clone(roads)
	c.update(func(s *State) { s.Display.Roads = roads })
}

// Refresh re-arms the fetch of kind without changing any parameter.
func (c *Controller) Refresh(kind FetchKind) error {
	sched, ok := c.sched[kind]
	if !ok {
		return eris.Errorf("unknown fetch kind %q", kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	sched.Cancel()
	sched.Trigger()
	return nil
}

// Close cancels pending fetches and discards results still in flight.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, kind := range FetchKinds {
		c.sched[kind].Cancel()
		c.supersedeLocked(kind)
	}
	clear(c.listeners)
}

type dependencies struct {
	tables     SourceID
	collection SourceID
	mapOpts    MapOptions
}

func dependenciesOf(s State) dependencies {
	return dependencies{
		tables:     SourceID{Owner: s.Source.Owner, ParentEntity: s.Source.ParentEntity},
		collection: s.Source,
		mapOpts:    s.MapOptions(),
	}
}

// rearmLocked cancels and re-arms every fetch whose inputs differ between
// before and after. A fetch of such a kind that is still in flight is
// cancelled and its result will be dropped.
func (c *Controller) rearmLocked(before, after dependencies) {
	changed := map[FetchKind]bool{
		FetchTables:     before.tables != after.tables,
		FetchCollection: before.collection != after.collection,
		FetchMap:        !before.mapOpts.equal(after.mapOpts),
	}
	for _, kind := range FetchKinds {
		if !changed[kind] {
			continue
		}
		c.supersedeLocked(kind)
		c.sched[kind].Cancel()
		c.sched[kind].Trigger()
	}
}

// supersedeLocked invalidates the in-flight fetch of kind, if any.
func (c *Controller) supersedeLocked(kind FetchKind) {
	c.seq[kind]++
	if cancel, ok := c.inflight[kind]; ok {
		cancel()
		delete(c.inflight, kind)
	}
	if st := c.state.status(kind); st.Fetching {
		*st = FetchStatus{State: StateIdle}
	}
}

func (c *Controller) update(mutate func(s *State)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	before := dependenciesOf(c.state)
	mutate(&c.state)
	c.rearmLocked(before, dependenciesOf(c.state))
	snap, listeners := c.state.clone(), c.listenersLocked()
	c.mu.Unlock()

	notify(listeners, snap)
}

func (c *Controller) listenersLocked() []func(State) {
	out := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(State), snap State) {
	for _, fn := range listeners {
		fn(snap)
	}
}

// beginLocked marks kind as fetching and returns the sequence number and
// context of the new fetch. The caller holds c.mu.
func (c *Controller) beginLocked(kind FetchKind) (uint64, context.Context) {
	c.supersedeLocked(kind)
	ctx, cancel := c.fetchContext()
	c.inflight[kind] = cancel
	st := c.state.status(kind)
	*st = FetchStatus{State: StateFetching, Fetching: true}
	return c.seq[kind], ctx
}

// finish applies the outcome of fetch seq of kind unless a newer fetch has
// started or the controller was closed. On success apply runs under the lock;
// on failure drop discards the data of kind.
func (c *Controller) finish(kind FetchKind, seq uint64, err error, apply, drop func(s *State)) {
	c.mu.Lock()
	if c.closed || c.seq[kind] != seq {
		c.mu.Unlock()
		c.log.Debug("discarding stale fetch result",
			zap.String("kind", string(kind)),
			zap.Uint64("seq", seq),
		)
		return
	}

	if cancel, ok := c.inflight[kind]; ok {
		cancel()
		delete(c.inflight, kind)
	}
	before := dependenciesOf(c.state)
	st := c.state.status(kind)
	if err != nil {
		*st = FetchStatus{State: StateFailed}.withError(err)
		drop(&c.state)
		c.log.Debug("fetch failed", zap.String("kind", string(kind)), zap.Error(err))
	} else {
		*st = FetchStatus{State: StateSucceeded}
		apply(&c.state)
	}
	c.rearmLocked(before, dependenciesOf(c.state))
	snap, listeners := c.state.clone(), c.listenersLocked()
	c.mu.Unlock()

	notify(listeners, snap)
}

func (c *Controller) start(kind FetchKind, ready func(s State) bool) (State, uint64, context.Context, bool) {
	c.mu.Lock()
	if c.closed || !ready(c.state) {
		c.mu.Unlock()
		return State{}, 0, nil, false
	}
	seq, ctx := c.beginLocked(kind)
	snap, listeners := c.state.clone(), c.listenersLocked()
	c.mu.Unlock()

	notify(listeners, snap)
	return snap, seq, ctx, true
}

func (c *Controller) fetchContext() (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(context.Background(), c.timeout)
	}
	return context.WithCancel(context.Background())
}

// guard runs a collaborator call and turns a panic into a fetch error so the
// fetching flag is always cleared.
func guard(kind FetchKind, call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("%s fetch panicked: %v", kind, r)
		}
	}()
	return call()
}

func (c *Controller) fetchTables() {
	snap, seq, ctx, ok := c.start(FetchTables, func(s State) bool {
		return s.Source.Owner != "" && s.Source.ParentEntity != ""
	})
	if !ok {
		return
	}
	ref := snap.Source.ParentReference()
	c.log.Debug("fetching tables", zap.String("parent", ref), zap.Uint64("seq", seq))

	var tables []string
	err := guard(FetchTables, func() (err error) {
		tables, err = c.catalog.Tables(ctx, ref)
		return err
	})

	c.finish(FetchTables, seq, err,
		func(s *State) {
			if tables == nil {
				tables = []string{}
			}
			s.Tables = tables
		},
		func(s *State) { s.Tables = []string{} },
	)
}

func (c *Controller) fetchCollection() {
	snap, seq, ctx, ok := c.start(FetchCollection, func(s State) bool {
		return s.Source.Owner != "" && s.Source.ParentEntity != "" && s.Source.Table != ""
	})
	if !ok {
		return
	}
	ref := snap.Source.TableReference()
	c.log.Debug("fetching collection", zap.String("table", ref), zap.Uint64("seq", seq))

	var collection *Collection
	err := guard(FetchCollection, func() (err error) {
		collection, err = c.catalog.Collection(ctx, ref)
		return err
	})

	c.finish(FetchCollection, seq, err,
		func(s *State) {
			s.Collection = collection
			s.Indicators = s.Indicators.FillEmpty(GuessIndicators(collection))
		},
		func(s *State) { s.Collection = nil },
	)
}

func (c *Controller) fetchMap() {
	snap, seq, ctx, ok := c.start(FetchMap, func(State) bool { return true })
	if !ok {
		return
	}
	opts := snap.MapOptions()
	c.log.Debug("fetching map data",
		zap.String("region", opts.Region),
		zap.String("subregion", opts.Subregion),
		zap.Strings("roads", opts.Roads),
		zap.Uint64("seq", seq),
	)

	var data *MapData
	err := guard(FetchMap, func() (err error) {
		data, err = c.maps.Map(ctx, opts)
		return err
	})

	c.finish(FetchMap, seq, err,
		func(s *State) { s.MapData = data },
		func(s *State) { s.MapData = nil },
	)
}
