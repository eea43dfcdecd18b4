package usecase

import (
	"context"
	"sort"
	"strings"

	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/internal/messaging/repository"
	apperrors "dmsync-backend/pkg/errors"
	"dmsync-backend/pkg/logger"
	"dmsync-backend/pkg/retry"

	"github.com/rs/zerolog"
)

// ConversationLookup is the input of the conversation id cascade.
type ConversationLookup struct {
	AccountID     string
	EmbeddedID    string
	ParticipantID string
	// Token is empty when the account has no usable access token.
	Token string
}

// ConversationIDStrategy resolves a conversation id or declines with ok=false.
type ConversationIDStrategy interface {
	Name() string
	Resolve(ctx context.Context, lookup ConversationLookup) (id string, ok bool, err error)
}

// MessageParties carries what is known about one message's sender and recipient.
type MessageParties struct {
	SenderID       string
	SenderUsername string
	RecipientID    string
	SelfID         string
	SelfUsername   string
	// Echo is set when the platform marked the message as sent by the account.
	Echo         bool
	Participants []domain.UpstreamParticipant
}

// PartyResolution is the counterparty and direction of one message.
type PartyResolution struct {
	ParticipantID string
	Direction     domain.Direction
	// LowConfidence is set when direction fell back to the inbound default.
	LowConfidence bool
	Strategy      string
}

// ParticipantStrategy resolves sender/recipient into a counterparty or declines.
type ParticipantStrategy interface {
	Name() string
	Resolve(parties MessageParties) (PartyResolution, bool)
}

// embeddedIDStrategy uses the id carried by the event or sync record.
type embeddedIDStrategy struct{}

func (embeddedIDStrategy) Name() string { return "embedded" }

func (embeddedIDStrategy) Resolve(_ context.Context, lookup ConversationLookup) (string, bool, error) {
	id := strings.TrimSpace(lookup.EmbeddedID)
	return id, id != "", nil
}

// upstreamLookupStrategy asks the platform for the thread with the counterparty.
type upstreamLookupStrategy struct {
	provider domain.Provider
	policy   retry.Policy
}

func (upstreamLookupStrategy) Name() string { return "upstream_lookup" }

func (s upstreamLookupStrategy) Resolve(ctx context.Context, lookup ConversationLookup) (string, bool, error) {
	if lookup.Token == "" || lookup.ParticipantID == "" || s.provider == nil {
		return "", false, nil
	}
	id, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.provider.FindConversationWithParticipant(ctx, lookup.Token, lookup.AccountID, lookup.ParticipantID)
	})
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, id != "", nil
}

// localConversationStrategy reuses the real id of an already stored thread.
type localConversationStrategy struct {
	conversations repository.ConversationRepository
}

func (localConversationStrategy) Name() string { return "local_row" }

func (s localConversationStrategy) Resolve(ctx context.Context, lookup ConversationLookup) (string, bool, error) {
	if lookup.ParticipantID == "" {
		return "", false, nil
	}
	conv, err := s.conversations.FindConversationByParticipant(ctx, lookup.AccountID, lookup.ParticipantID)
	if err != nil {
		return "", false, err
	}
	if conv == nil {
		return "", false, nil
	}
	return conv.ID, true, nil
}

// selfIDStrategy: sender == self means outbound.
type selfIDStrategy struct{}

func (selfIDStrategy) Name() string { return "self_id" }

func (selfIDStrategy) Resolve(p MessageParties) (PartyResolution, bool) {
	if p.SelfID == "" {
		return PartyResolution{}, false
	}
	if p.SenderID == p.SelfID {
		return PartyResolution{ParticipantID: p.RecipientID, Direction: domain.DirectionOutbound}, true
	}
	return PartyResolution{ParticipantID: p.SenderID, Direction: domain.DirectionInbound}, true
}

// usernameStrategy matches the sender against the participant list by username.
type usernameStrategy struct{}

func (usernameStrategy) Name() string { return "username" }

func (usernameStrategy) Resolve(p MessageParties) (PartyResolution, bool) {
	if p.SelfUsername == "" {
		return PartyResolution{}, false
	}
	senderUsername := p.SenderUsername
	recipientUsername := ""
	for _, participant := range p.Participants {
		switch participant.ID {
		case p.SenderID:
			if senderUsername == "" {
				senderUsername = participant.Username
			}
		case p.RecipientID:
			recipientUsername = participant.Username
		}
	}

	switch {
	case sameUsername(senderUsername, p.SelfUsername):
		return PartyResolution{ParticipantID: p.RecipientID, Direction: domain.DirectionOutbound}, true
	case sameUsername(recipientUsername, p.SelfUsername):
		return PartyResolution{ParticipantID: p.SenderID, Direction: domain.DirectionInbound}, true
	}
	return PartyResolution{}, false
}

// echoStrategy trusts the platform's echo flag when self is otherwise unknown.
type echoStrategy struct{}

func (echoStrategy) Name() string { return "echo" }

func (echoStrategy) Resolve(p MessageParties) (PartyResolution, bool) {
	if !p.Echo {
		return PartyResolution{}, false
	}
	return PartyResolution{ParticipantID: p.RecipientID, Direction: domain.DirectionOutbound}, true
}

// defaultInboundStrategy is the last resort and is flagged as a guess.
type defaultInboundStrategy struct{}

func (defaultInboundStrategy) Name() string { return "default_inbound" }

func (defaultInboundStrategy) Resolve(p MessageParties) (PartyResolution, bool) {
	return PartyResolution{ParticipantID: p.SenderID, Direction: domain.DirectionInbound, LowConfidence: true}, true
}

// Resolver determines conversation ids, counterparties and message direction.
type Resolver struct {
	conversationStrategies []ConversationIDStrategy
	participantStrategies  []ParticipantStrategy
	logger                 zerolog.Logger
}

// NewResolver builds the resolver with the fixed strategy order.
func NewResolver(provider domain.Provider, conversations repository.ConversationRepository) *Resolver {
	return &Resolver{
		conversationStrategies: []ConversationIDStrategy{
			embeddedIDStrategy{},
			upstreamLookupStrategy{provider: provider, policy: retry.Upstream("find_conversation")},
			localConversationStrategy{conversations: conversations},
		},
		participantStrategies: []ParticipantStrategy{
			selfIDStrategy{},
			usernameStrategy{},
			echoStrategy{},
			defaultInboundStrategy{},
		},
		logger: logger.Component("resolver"),
	}
}

// ResolveConversationID runs the cascade until one strategy succeeds. A failing
// strategy does not stop the cascade. No id is ever derived from the participant.
func (r *Resolver) ResolveConversationID(ctx context.Context, lookup ConversationLookup) (string, error) {
	var lastErr error
	for _, strategy := range r.conversationStrategies {
		id, ok, err := strategy.Resolve(ctx, lookup)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.logger.Warn().
				Str("strategy", strategy.Name()).
				Str("account_id", lookup.AccountID).
				Str("participant_id", lookup.ParticipantID).
				Err(err).
				Msg("conversation strategy failed")
			lastErr = err
			continue
		}
		if ok {
			return id, nil
		}
	}
	if lastErr != nil {
		return "", apperrors.Wrap(apperrors.CodeDataAnomaly, "conversation id unresolved", lastErr)
	}
	return "", apperrors.ErrConversationUnresolved
}

// ResolveParties returns the counterparty and direction of one message. A
// counterparty that is empty or equals the self id is a data anomaly.
func (r *Resolver) ResolveParties(parties MessageParties) (PartyResolution, error) {
	for _, strategy := range r.participantStrategies {
		res, ok := strategy.Resolve(parties)
		if !ok {
			continue
		}
		res.Strategy = strategy.Name()
		if res.ParticipantID == "" {
			return res, apperrors.ErrParticipantUnresolved
		}
		if parties.SelfID != "" && res.ParticipantID == parties.SelfID {
			return res, apperrors.ErrParticipantIsSelf
		}
		if parties.Echo && res.ParticipantID == parties.SenderID {
			return res, apperrors.ErrParticipantIsSelf
		}
		return res, nil
	}
	return PartyResolution{}, apperrors.ErrParticipantUnresolved
}

// SelfIDFor returns the account's self id, deriving it from the participant
// list by username when the connection record does not carry one.
func SelfIDFor(selfID, selfUsername string, participants []domain.UpstreamParticipant) string {
	if selfID != "" {
		return selfID
	}
	if selfUsername == "" {
		return ""
	}
	for _, p := range participants {
		if sameUsername(p.Username, selfUsername) {
			return p.ID
		}
	}
	return ""
}

// Counterparty identifies the conversation's participant key from a sync detail.
type Counterparty struct {
	ParticipantID    string
	IsGroup          bool
	ParticipantCount int
}

// ResolveCounterparty picks the counterparty of a synced conversation: the
// participant list minus self first, then the ids seen on messages minus self.
func (r *Resolver) ResolveCounterparty(detail *domain.ConversationDetail, selfID, selfUsername string) (Counterparty, error) {
	isSelf := func(id, username string) bool {
		return (selfID != "" && id == selfID) || sameUsername(username, selfUsername)
	}

	others := make([]string, 0, len(detail.Participants))
	seen := make(map[string]struct{}, len(detail.Participants))
	for _, p := range detail.Participants {
		if p.ID == "" || isSelf(p.ID, p.Username) {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		others = append(others, p.ID)
	}
	count := len(detail.Participants)

	if len(others) == 1 {
		return Counterparty{ParticipantID: others[0], ParticipantCount: count}, nil
	}
	if count > 2 && len(others) > 1 {
		return Counterparty{
			ParticipantID:    domain.GroupParticipantPrefix + detail.ID,
			IsGroup:          true,
			ParticipantCount: count,
		}, nil
	}

	// Participant list is ambiguous; fall back to the ids observed on messages
	union := make(map[string]struct{})
	for _, m := range detail.Messages {
		if m.From.ID != "" && !isSelf(m.From.ID, m.From.Username) {
			union[m.From.ID] = struct{}{}
		}
		for _, to := range m.To {
			if to.ID != "" && !isSelf(to.ID, to.Username) {
				union[to.ID] = struct{}{}
			}
		}
	}
	if len(union) == 1 {
		for id := range union {
			if count == 0 {
				count = 2
			}
			return Counterparty{ParticipantID: id, ParticipantCount: count}, nil
		}
	}

	ids := make([]string, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	r.logger.Warn().
		Str("conversation_id", detail.ID).
		Strs("candidates", ids).
		Msg("counterparty ambiguous")
	return Counterparty{}, apperrors.ErrParticipantUnresolved
}

func sameUsername(a, b string) bool {
	return a != "" && b != "" && strings.EqualFold(strings.TrimPrefix(a, "@"), strings.TrimPrefix(b, "@"))
}
