package bot

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"minicord/cache"
	"minicord/gateway"
	"minicord/types"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const USER_TTL = 30 * time.Minute

type readyEvent struct {
	User  types.User   `json:"user"`
	Users []types.User `json:"users"`
}

// Bot is the application side of the gateway: it tracks who we are and the
// users the gateway told us about.
type Bot struct {
	users  *cache.UserCache
	logger zerolog.Logger

	mutex    sync.RWMutex
	self     *types.User
	counts   map[string]uint64
	resumes  int
	lastSeen time.Time
}

func NewBot(users *cache.UserCache, logger zerolog.Logger) *Bot {
	return &Bot{
		users:  users,
		logger: logger,
		counts: make(map[string]uint64),
	}
}

// HandleEvent implements gateway.EventHandler.
func (b *Bot) HandleEvent(evt gateway.Event) {
	b.mutex.Lock()
	b.counts[evt.Name]++
	b.lastSeen = time.Now()
	b.mutex.Unlock()

	switch evt.Name {
	case "READY":
		if err := b.handleReady(evt.Data); err != nil {
			b.logger.Error().Err(err).Msg("failed to handle READY")
		}
	case "RESUMED":
		b.mutex.Lock()
		b.resumes++
		b.mutex.Unlock()
		b.logger.Info().Uint64("seq", evt.Sequence).Msg("session resumed")
	}
}

func (b *Bot) handleReady(data json.RawMessage) error {
	var ready readyEvent
	if err := json.Unmarshal(data, &ready); err != nil {
		return errors.Wrap(err, "decode READY")
	}
	if ready.User.ID == "" {
		return errors.New("READY without user")
	}

	b.mutex.Lock()
	me := ready.User
	b.self = &me
	b.mutex.Unlock()

	b.users.Set(me, 0)
	for _, u := range ready.Users {
		if u.ID != "" {
			b.users.Set(u, USER_TTL)
		}
	}

	b.logger.Info().Msgf("[!] Welcome, %s! (ID: %s)", me.Tag(), me.ID)
	b.logger.Debug().Int("users", len(ready.Users)).Msg("cached READY users")
	return nil
}

// Self is the logged-in user, once READY has been seen.
func (b *Bot) Self() (types.User, bool) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.self == nil {
		return types.User{}, false
	}
	return *b.self, true
}

func (b *Bot) User(id string) (types.User, bool) {
	return b.users.Get(id)
}

// Stats is a summary for the dashboard.
type Stats struct {
	Self     *types.User       `json:"self,omitempty"`
	Events   map[string]uint64 `json:"events"`
	Names    []string          `json:"event_names"`
	Resumes  int               `json:"resumes"`
	Cached   int               `json:"cached_users"`
	LastSeen time.Time         `json:"last_event_at"`
}

func (b *Bot) Stats() Stats {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	counts := make(map[string]uint64, len(b.counts))
	names := make([]string, 0, len(b.counts))
	for name, n := range b.counts {
		counts[name] = n
		names = append(names, name)
	}
	sort.Strings(names)

	var self *types.User
	if b.self != nil {
		me := *b.self
		self = &me
	}
	return Stats{
		Self:     self,
		Events:   counts,
		Names:    names,
		Resumes:  b.resumes,
		Cached:   b.users.Size(),
		LastSeen: b.lastSeen,
	}
}
