/*
Package registry is an in-memory implementation of the nation, party, and
participant registries consumed by the election engine. A world can be loaded
from and saved to a JSON document so that the command line tools can run the
engine without an external registry service.
*/
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bbengfort/elections"
)

// Standard errors returned by the registry.
var (
	ErrUnknownNation     = errors.New("unknown nation")
	ErrUnknownParty      = errors.New("unknown party")
	ErrUnknownGovernment = errors.New("unknown government type")
	ErrNotCitizen        = errors.New("participant is not a citizen")
	ErrExists            = errors.New("already exists")
)

// DefaultGovernments are the government types known to every new world.
func DefaultGovernments() map[string]elections.Government {
	return map[string]elections.Government{
		"republic": {
			Type:    "republic",
			Permits: []elections.ElectionType{elections.Parliamentary, elections.Presidential},
		},
		"parliamentary_republic": {
			Type:                    "parliamentary_republic",
			Permits:                 []elections.ElectionType{elections.Parliamentary, elections.Presidential},
			LegislatureElectsLeader: true,
		},
		"constitutional_monarchy": {
			Type:    "constitutional_monarchy",
			Permits: []elections.ElectionType{elections.Parliamentary},
		},
		"monarchy":     {Type: "monarchy"},
		"dictatorship": {Type: "dictatorship"},
	}
}

// Nation is the registry record of a nation.
type Nation struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Government string                `json:"government"`
	Leader     string                `json:"leader,omitempty"`
	Citizens   []string              `json:"citizens"`
	Parliament *elections.Parliament `json:"parliament,omitempty"`
	Completed  map[string]time.Time  `json:"completed,omitempty"`
}

// Party is the registry record of a party.
type Party struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Nation    string    `json:"nation"`
	Leader    string    `json:"leader,omitempty"`
	Members   []string  `json:"members"`
	Completed time.Time `json:"completed,omitempty"`
}

// Watcher is notified of world changes that affect elections in progress.
// The election engine implements it.
type Watcher interface {
	OnGovernmentChange(nation string) error
	OnContextDeleted(ctx elections.Context) error
	OnPartyDisbanded(party string) error
}

// World holds every nation, party, and participant name. The nation and
// party registries are views of the same world so that a party's nation and
// a nation's parties always agree.
type World struct {
	sync.RWMutex
	governments  map[string]elections.Government
	nations      map[string]*Nation
	parties      map[string]*Party
	participants map[string]string
	watcher      Watcher
}

// New creates an empty world that knows the default governments.
func New() *World {
	return &World{
		governments:  DefaultGovernments(),
		nations:      make(map[string]*Nation),
		parties:      make(map[string]*Party),
		participants: make(map[string]string),
	}
}

// document is the serialized form of a world.
type document struct {
	Governments  map[string]elections.Government `json:"governments,omitempty"`
	Nations      []*Nation                       `json:"nations"`
	Parties      []*Party                        `json:"parties"`
	Participants map[string]string               `json:"participants"`
}

// Load a world from a JSON document. Governments in the document are added
// to (or replace) the default governments.
func Load(path string) (w *World, err error) {
	var data []byte
	if data, err = os.ReadFile(path); err != nil {
		return nil, err
	}

	doc := new(document)
	if err = json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("could not parse world %s: %w", path, err)
	}

	w = New()
	for name, gov := range doc.Governments {
		gov.Type = name
		w.governments[name] = gov
	}

	for name, display := range doc.Participants {
		w.participants[name] = display
	}

	for _, nation := range doc.Nations {
		if err = w.AddNation(nation); err != nil {
			return nil, err
		}
	}

	for _, party := range doc.Parties {
		if err = w.AddParty(party); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Save the world as a JSON document.
func (w *World) Save(path string) error {
	w.RLock()
	doc := &document{
		Governments:  w.governments,
		Nations:      make([]*Nation, 0, len(w.nations)),
		Parties:      make([]*Party, 0, len(w.parties)),
		Participants: w.participants,
	}
	for _, id := range sortedKeys(w.nations) {
		doc.Nations = append(doc.Nations, w.nations[id])
	}
	for _, id := range sortedKeys(w.parties) {
		doc.Parties = append(doc.Parties, w.parties[id])
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	w.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Watch registers the watcher to be notified after the government of a nation
// changes, a nation is deleted, or a party is disbanded. Watchers are called
// without the world lock held so they may read the registries. Passing nil
// stops notifications.
func (w *World) Watch(watcher Watcher) {
	w.Lock()
	w.watcher = watcher
	w.Unlock()
}

func (w *World) watching() Watcher {
	w.RLock()
	defer w.RUnlock()
	return w.watcher
}

// AddNation registers a nation; its government type must be known.
func (w *World) AddNation(n *Nation) error {
	w.Lock()
	defer w.Unlock()

	if n.ID == "" {
		return fmt.Errorf("%w: nation has no id", ErrUnknownNation)
	}
	if _, ok := w.nations[n.ID]; ok {
		return fmt.Errorf("nation %q %w", n.ID, ErrExists)
	}
	if _, ok := w.governments[n.Government]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownGovernment, n.Government)
	}

	if n.Completed == nil {
		n.Completed = make(map[string]time.Time)
	}
	w.nations[n.ID] = n
	return nil
}

// DeleteNation removes the nation and every party registered in it. Returns
// the ids of the removed parties. The watcher is told of each disbanded party
// before the nation itself is reported deleted.
func (w *World) DeleteNation(id string) (removed []string, err error) {
	if removed, err = w.deleteNation(id); err != nil {
		return nil, err
	}

	if watcher := w.watching(); watcher != nil {
		var errs []error
		for _, party := range removed {
			errs = append(errs, watcher.OnPartyDisbanded(party))
		}
		errs = append(errs, watcher.OnContextDeleted(elections.NationContext(id)))
		return removed, errors.Join(errs...)
	}
	return removed, nil
}

func (w *World) deleteNation(id string) ([]string, error) {
	w.Lock()
	defer w.Unlock()

	if _, ok := w.nations[id]; !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownNation, id)
	}
	delete(w.nations, id)

	var removed []string
	for _, pid := range sortedKeys(w.parties) {
		if w.parties[pid].Nation == id {
			delete(w.parties, pid)
			removed = append(removed, pid)
		}
	}
	return removed, nil
}

// SetGovernment changes the government type of the nation. The watcher is
// only notified if the government actually changed.
func (w *World) SetGovernment(nation, government string) error {
	changed, err := w.setGovernment(nation, government)
	if err != nil || !changed {
		return err
	}

	if watcher := w.watching(); watcher != nil {
		return watcher.OnGovernmentChange(nation)
	}
	return nil
}

func (w *World) setGovernment(nation, government string) (bool, error) {
	w.Lock()
	defer w.Unlock()

	n, ok := w.nations[nation]
	if !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownNation, nation)
	}
	if _, ok := w.governments[government]; !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownGovernment, government)
	}
	if n.Government == government {
		return false, nil
	}
	n.Government = government
	return true, nil
}

// AddCitizen adds the participant to the citizens of the nation.
func (w *World) AddCitizen(nation, participant, name string) error {
	w.Lock()
	defer w.Unlock()

	n, ok := w.nations[nation]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownNation, nation)
	}

	if !contains(n.Citizens, participant) {
		n.Citizens = append(n.Citizens, participant)
	}
	if name != "" {
		w.participants[participant] = name
	}
	return nil
}

// AddParty registers a party in a nation; every member must be a citizen.
func (w *World) AddParty(p *Party) error {
	w.Lock()
	defer w.Unlock()

	if p.ID == "" {
		return fmt.Errorf("%w: party has no id", ErrUnknownParty)
	}
	if _, ok := w.parties[p.ID]; ok {
		return fmt.Errorf("party %q %w", p.ID, ErrExists)
	}

	n, ok := w.nations[p.Nation]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownNation, p.Nation)
	}

	for _, member := range p.Members {
		if !contains(n.Citizens, member) {
			return fmt.Errorf("%w: %q of nation %q", ErrNotCitizen, member, n.ID)
		}
		if other, ok := w.partyOf(member); ok {
			return fmt.Errorf("%q is already a member of party %q", member, other)
		}
	}

	w.parties[p.ID] = p
	return nil
}

// Join adds a citizen of the party's nation to the party.
func (w *World) Join(party, participant string) error {
	w.Lock()
	defer w.Unlock()

	p, ok := w.parties[party]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownParty, party)
	}
	if n := w.nations[p.Nation]; n == nil || !contains(n.Citizens, participant) {
		return fmt.Errorf("%w: %q", ErrNotCitizen, participant)
	}
	if other, ok := w.partyOf(participant); ok && other != party {
		return fmt.Errorf("%q is already a member of party %q", participant, other)
	}

	if !contains(p.Members, participant) {
		p.Members = append(p.Members, participant)
	}
	return nil
}

// Disband removes the party from the world.
func (w *World) Disband(party string) error {
	w.Lock()
	if _, ok := w.parties[party]; !ok {
		w.Unlock()
		return fmt.Errorf("%w %q", ErrUnknownParty, party)
	}
	delete(w.parties, party)
	w.Unlock()

	if watcher := w.watching(); watcher != nil {
		return watcher.OnPartyDisbanded(party)
	}
	return nil
}

// Sync brings the world in line with next, usually a freshly loaded copy of
// the world document. Nations and parties missing from next are deleted and
// disbanded, governments are changed, memberships are replaced, and new
// records are added, all through the same methods that notify the watcher.
func (w *World) Sync(next *World) error {
	next.RLock()
	governments := make(map[string]elections.Government, len(next.governments))
	for name, gov := range next.governments {
		governments[name] = gov
	}
	nations := make([]Nation, 0, len(next.nations))
	for _, id := range sortedKeys(next.nations) {
		nations = append(nations, *next.nations[id])
	}
	parties := make([]Party, 0, len(next.parties))
	for _, id := range sortedKeys(next.parties) {
		parties = append(parties, *next.parties[id])
	}
	participants := make(map[string]string, len(next.participants))
	for id, name := range next.participants {
		participants[id] = name
	}
	next.RUnlock()

	keep := make(map[string]bool, len(nations)+len(parties))
	for _, n := range nations {
		keep["nation:"+n.ID] = true
	}
	for _, p := range parties {
		keep["party:"+p.ID] = true
	}

	w.Lock()
	for name, gov := range governments {
		w.governments[name] = gov
	}
	for id, name := range participants {
		w.participants[id] = name
	}
	var gone, disbanded []string
	for _, id := range sortedKeys(w.nations) {
		if !keep["nation:"+id] {
			gone = append(gone, id)
		}
	}
	for _, id := range sortedKeys(w.parties) {
		if !keep["party:"+id] {
			disbanded = append(disbanded, id)
		}
	}
	w.Unlock()

	var errs []error
	for _, id := range gone {
		_, err := w.DeleteNation(id)
		errs = append(errs, err)
	}
	for _, id := range disbanded {
		if err := w.Disband(id); err != nil && !errors.Is(err, ErrUnknownParty) {
			errs = append(errs, err)
		}
	}

	for i := range nations {
		n := &nations[i]
		w.Lock()
		current, ok := w.nations[n.ID]
		if ok {
			current.Name = n.Name
			current.Citizens = append([]string(nil), n.Citizens...)
		}
		w.Unlock()

		if !ok {
			n.Citizens = append([]string(nil), n.Citizens...)
			errs = append(errs, w.AddNation(n))
			continue
		}
		errs = append(errs, w.SetGovernment(n.ID, n.Government))
	}

	for i := range parties {
		p := &parties[i]
		w.Lock()
		current, ok := w.parties[p.ID]
		if ok {
			current.Name = p.Name
			current.Members = append([]string(nil), p.Members...)
		}
		w.Unlock()

		if !ok {
			p.Members = append([]string(nil), p.Members...)
			errs = append(errs, w.AddParty(p))
		}
	}
	return errors.Join(errs...)
}

// Nation returns a copy of the nation record.
func (w *World) Nation(id string) (Nation, bool) {
	w.RLock()
	defer w.RUnlock()

	n, ok := w.nations[id]
	if !ok {
		return Nation{}, false
	}
	return *n, true
}

// NationRegistry returns the nation view of the world.
func (w *World) NationRegistry() *Nations {
	return &Nations{w: w}
}

// PartyRegistry returns the party view of the world.
func (w *World) PartyRegistry() *Parties {
	return &Parties{w: w}
}

// DisplayName returns the name of the participant, or the id if unnamed.
func (w *World) DisplayName(participant string) string {
	w.RLock()
	defer w.RUnlock()
	if name, ok := w.participants[participant]; ok && name != "" {
		return name
	}
	return participant
}

// PartyName returns the name of the party, or the id if unknown.
func (w *World) PartyName(party string) string {
	w.RLock()
	defer w.RUnlock()
	if p, ok := w.parties[party]; ok && p.Name != "" {
		return p.Name
	}
	return party
}

// partyOf requires the lock to be held.
func (w *World) partyOf(participant string) (string, bool) {
	for _, id := range sortedKeys(w.parties) {
		if contains(w.parties[id].Members, participant) {
			return id, true
		}
	}
	return "", false
}

func contains(list []string, item string) bool {
	for _, elem := range list {
		if elem == item {
			return true
		}
	}
	return false
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
