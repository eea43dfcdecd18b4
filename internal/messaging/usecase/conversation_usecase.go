package usecase

import (
	"context"
	"sort"

	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/internal/messaging/repository"
	apperrors "dmsync-backend/pkg/errors"
	"dmsync-backend/pkg/fuzzy"
)

// searchScanLimit caps how many conversations a fuzzy search looks at.
const searchScanLimit = 1000

// conversationUsecase implements ConversationUsecase
type conversationUsecase struct {
	store      repository.MessageStore
	identities repository.IdentityRepository
	engine     *PersistenceEngine
}

func NewConversationUsecase(store repository.MessageStore, identities repository.IdentityRepository, engine *PersistenceEngine) ConversationUsecase {
	return &conversationUsecase{
		store:      store,
		identities: identities,
		engine:     engine,
	}
}

func (u *conversationUsecase) ListConversations(ctx context.Context, accountID, query string, limit, offset int) ([]*domain.Conversation, int64, error) {
	limit, offset = normalizePage(limit, offset)

	if query == "" {
		conversations, total, err := u.store.ListConversations(ctx, accountID, limit, offset)
		if err != nil {
			return nil, 0, err
		}
		if err := u.attachParticipants(ctx, conversations); err != nil {
			return nil, 0, err
		}
		return conversations, total, nil
	}

	candidates, _, err := u.store.ListConversations(ctx, accountID, searchScanLimit, 0)
	if err != nil {
		return nil, 0, err
	}
	if err := u.attachParticipants(ctx, candidates); err != nil {
		return nil, 0, err
	}

	type scored struct {
		conv  *domain.Conversation
		score float64
	}
	matches := make([]scored, 0)
	for _, conv := range candidates {
		name, username := "", ""
		if conv.Participant != nil {
			name, username = conv.Participant.Name, conv.Participant.Username
		}
		if !fuzzy.MatchParticipant(query, name, username, conv.ParticipantID) {
			continue
		}
		matches = append(matches, scored{conv: conv, score: fuzzy.ParticipantScore(query, name, username)})
	}
	// Stable keeps recency order among equal scores
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	total := int64(len(matches))
	if offset >= len(matches) {
		return []*domain.Conversation{}, total, nil
	}
	end := offset + limit
	if end > len(matches) {
		end = len(matches)
	}
	page := make([]*domain.Conversation, 0, end-offset)
	for _, m := range matches[offset:end] {
		page = append(page, m.conv)
	}
	return page, total, nil
}

func (u *conversationUsecase) ListMessages(ctx context.Context, accountID, conversationID string, limit, offset int) ([]*domain.Message, int64, error) {
	conv, err := u.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if conv == nil || conv.AccountID != accountID {
		return nil, 0, apperrors.NotFound("conversation not found")
	}
	limit, offset = normalizePage(limit, offset)
	return u.store.ListMessages(ctx, conv.ID, limit, offset)
}

func (u *conversationUsecase) MarkConversationRead(ctx context.Context, accountID, conversationID string) (int64, error) {
	return u.engine.MarkConversationRead(ctx, accountID, conversationID)
}

func (u *conversationUsecase) attachParticipants(ctx context.Context, conversations []*domain.Conversation) error {
	ids := make([]string, 0, len(conversations))
	for _, conv := range conversations {
		if !conv.IsGroup {
			ids = append(ids, conv.ParticipantID)
		}
	}
	identities, err := u.identities.GetMany(ctx, ids)
	if err != nil {
		return err
	}
	for _, conv := range conversations {
		conv.Participant = identities[conv.ParticipantID]
	}
	return nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
