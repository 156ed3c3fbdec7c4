package repository

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"realtime_chat/internal/docstore"
	"realtime_chat/internal/domain"
	"realtime_chat/pkg/logger"
)

type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID string) (*domain.Call, error)
	SetAnswer(ctx context.Context, callID string, answer webrtc.SessionDescription) error
	AddCandidate(ctx context.Context, candidate *domain.CallCandidate) error
	// Delete removes the call and all its candidates in one commit.
	Delete(ctx context.Context, callID string) error
	// WatchCall delivers nil once the call document is gone.
	WatchCall(callID string, fn func(*domain.Call), onErr func(error)) (docstore.Subscription, error)
	WatchCandidates(callID, fromID string, fn func([]*domain.CallCandidate), onErr func(error)) (docstore.Subscription, error)
	WatchIncoming(calleeID string, fn func([]*domain.Call), onErr func(error)) (docstore.Subscription, error)
}

type callRepository struct {
	store docstore.Store
	log   logger.Logger
}

func NewCallRepository(store docstore.Store, log logger.Logger) CallRepository {
	return &callRepository{store: store, log: log}
}

func (r *callRepository) Create(ctx context.Context, call *domain.Call) error {
	data := map[string]interface{}{
		"caller_id": call.CallerID,
		"callee_id": call.CalleeID,
		"status":    string(call.Status),
	}
	if call.Offer != nil {
		data["offer_type"] = call.Offer.Type.String()
		data["offer_sdp"] = call.Offer.SDP
	}

	doc, err := r.store.Add(ctx, CollectionCalls, data)
	if err != nil {
		r.log.Error("Failed to create call", "error", err, "caller_id", call.CallerID)
		return err
	}
	call.ID = doc.ID
	call.CreatedAt = doc.CreatedAt
	call.UpdatedAt = doc.UpdatedAt
	return nil
}

func (r *callRepository) GetByID(ctx context.Context, callID string) (*domain.Call, error) {
	doc, err := r.store.GetByID(ctx, CollectionCalls, callID)
	if err != nil {
		return nil, err
	}
	return callFromDocument(doc), nil
}

func (r *callRepository) SetAnswer(ctx context.Context, callID string, answer webrtc.SessionDescription) error {
	err := r.store.Update(ctx, CollectionCalls, callID, map[string]interface{}{
		"status":      string(domain.CallStatusActive),
		"answer_type": answer.Type.String(),
		"answer_sdp":  answer.SDP,
	})
	if err != nil {
		r.log.Error("Failed to store answer", "error", err, "call_id", callID)
		return err
	}
	return nil
}

func (r *callRepository) AddCandidate(ctx context.Context, candidate *domain.CallCandidate) error {
	data := map[string]interface{}{
		"call_id":   candidate.CallID,
		"from_id":   candidate.FromID,
		"candidate": candidate.Candidate.Candidate,
	}
	if candidate.Candidate.SDPMid != nil {
		data["sdp_mid"] = *candidate.Candidate.SDPMid
	}
	if candidate.Candidate.SDPMLineIndex != nil {
		data["sdp_mline_index"] = *candidate.Candidate.SDPMLineIndex
	}
	if candidate.Candidate.UsernameFragment != nil {
		data["username_fragment"] = *candidate.Candidate.UsernameFragment
	}

	doc, err := r.store.Add(ctx, CollectionCallCandidates, data)
	if err != nil {
		r.log.Error("Failed to add candidate", "error", err, "call_id", candidate.CallID)
		return err
	}
	candidate.ID = doc.ID
	candidate.CreatedAt = doc.CreatedAt
	return nil
}

func (r *callRepository) Delete(ctx context.Context, callID string) error {
	docs, err := r.store.Get(ctx, docstore.Query{
		Collection: CollectionCallCandidates,
		Where:      []docstore.Condition{docstore.Eq("call_id", callID)},
	})
	if err != nil {
		r.log.Error("Failed to list candidates", "error", err, "call_id", callID)
		return err
	}

	writes := make([]docstore.Write, 0, len(docs)+1)
	for _, doc := range docs {
		writes = append(writes, docstore.Delete(CollectionCallCandidates, doc.ID))
	}
	writes = append(writes, docstore.Delete(CollectionCalls, callID))

	if err := r.store.Commit(ctx, writes...); err != nil {
		r.log.Error("Failed to delete call", "error", err, "call_id", callID)
		return err
	}
	return nil
}

func (r *callRepository) WatchCall(callID string, fn func(*domain.Call), onErr func(error)) (docstore.Subscription, error) {
	q := docstore.Query{
		Collection: CollectionCalls,
		Where:      []docstore.Condition{docstore.Eq(docstore.FieldID, callID)},
	}
	sub, err := r.store.SubscribeOrdered(q, func(docs []*docstore.Document) {
		if len(docs) == 0 {
			fn(nil)
			return
		}
		fn(callFromDocument(docs[0]))
	}, docstore.WithErrorHandler(onErr))
	if err != nil {
		return nil, fmt.Errorf("watch call: %w", err)
	}
	return sub, nil
}

func (r *callRepository) WatchCandidates(callID, fromID string, fn func([]*domain.CallCandidate), onErr func(error)) (docstore.Subscription, error) {
	q := docstore.Query{
		Collection: CollectionCallCandidates,
		Where: []docstore.Condition{
			docstore.Eq("call_id", callID),
			docstore.Eq("from_id", fromID),
		},
	}
	sub, err := r.store.SubscribeOrdered(q, func(docs []*docstore.Document) {
		candidates := make([]*domain.CallCandidate, 0, len(docs))
		for _, doc := range docs {
			candidates = append(candidates, candidateFromDocument(doc))
		}
		fn(candidates)
	}, docstore.WithErrorHandler(onErr))
	if err != nil {
		return nil, fmt.Errorf("watch candidates: %w", err)
	}
	return sub, nil
}

func (r *callRepository) WatchIncoming(calleeID string, fn func([]*domain.Call), onErr func(error)) (docstore.Subscription, error) {
	q := docstore.Query{
		Collection: CollectionCalls,
		Where: []docstore.Condition{
			docstore.Eq("callee_id", calleeID),
			docstore.Eq("status", string(domain.CallStatusRinging)),
		},
	}
	sub, err := r.store.SubscribeOrdered(q, func(docs []*docstore.Document) {
		calls := make([]*domain.Call, 0, len(docs))
		for _, doc := range docs {
			calls = append(calls, callFromDocument(doc))
		}
		fn(calls)
	}, docstore.WithErrorHandler(onErr))
	if err != nil {
		return nil, fmt.Errorf("watch incoming calls: %w", err)
	}
	return sub, nil
}

func sessionDescription(data map[string]interface{}, prefix string) *webrtc.SessionDescription {
	sdp := getString(data, prefix+"_sdp")
	if sdp == "" {
		return nil
	}
	return &webrtc.SessionDescription{
		Type: webrtc.NewSDPType(getString(data, prefix+"_type")),
		SDP:  sdp,
	}
}

func callFromDocument(doc *docstore.Document) *domain.Call {
	return &domain.Call{
		ID:        doc.ID,
		CallerID:  getString(doc.Data, "caller_id"),
		CalleeID:  getString(doc.Data, "callee_id"),
		Status:    domain.CallStatus(getString(doc.Data, "status")),
		Offer:     sessionDescription(doc.Data, "offer"),
		Answer:    sessionDescription(doc.Data, "answer"),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func candidateFromDocument(doc *docstore.Document) *domain.CallCandidate {
	return &domain.CallCandidate{
		ID:     doc.ID,
		CallID: getString(doc.Data, "call_id"),
		FromID: getString(doc.Data, "from_id"),
		Candidate: webrtc.ICECandidateInit{
			Candidate:        getString(doc.Data, "candidate"),
			SDPMid:           getStringPtr(doc.Data, "sdp_mid"),
			SDPMLineIndex:    getIntPtr(doc.Data, "sdp_mline_index"),
			UsernameFragment: getStringPtr(doc.Data, "username_fragment"),
		},
		CreatedAt: doc.CreatedAt,
	}
}
