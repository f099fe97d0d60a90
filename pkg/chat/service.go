package chat

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/events"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/go-go-golems/forkchat/pkg/responder"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Service runs one conversation operation per call: load the conversation,
// apply a single fork engine mutation, persist the resulting delta and
// publish an event. It holds no trees between calls.
type Service struct {
	store     persistence.Adapter
	publisher events.Publisher
	responder responder.Responder
	clock     func() time.Time
	newID     conversation.IDGenerator
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithResponder(r responder.Responder) Option {
	return func(s *Service) {
		s.responder = r
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func WithIDGenerator(gen conversation.IDGenerator) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

func NewService(store persistence.Adapter, options ...Option) *Service {
	ret := &Service{
		store:     store,
		publisher: events.NopPublisher{},
		responder: responder.Disabled{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// mutation changes the tree through the engine and describes the change.
type mutation func(ctx context.Context, e *conversation.ForkEngine) (*events.Event, error)

func (s *Service) engineOptions() []conversation.EngineOption {
	var ret []conversation.EngineOption
	if s.clock != nil {
		ret = append(ret, conversation.WithClock(s.clock))
	}
	if s.newID != nil {
		ret = append(ret, conversation.WithIDGenerator(s.newID))
	}
	return ret
}

func (s *Service) load(ctx context.Context, id conversation.ID) (*conversation.Tree, error) {
	tree, err := persistence.LoadTree(ctx, s.store, id)
	if err != nil {
		return nil, errors.Wrapf(err, "loading conversation %s", id)
	}
	return tree, nil
}

// mutate is the unit the presentation layer retries on conflicts.
func (s *Service) mutate(ctx context.Context, id conversation.ID, fn mutation) (*conversation.Tree, error) {
	tree, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	engine := conversation.NewForkEngine(tree, s.engineOptions()...)
	ev, err := fn(ctx, engine)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, tree); err != nil {
		return nil, err
	}
	if ev != nil {
		s.publish(ctx, ev.WithRevision(tree.Conversation().Version))
	}
	return tree, nil
}

func (s *Service) commit(ctx context.Context, tree *conversation.Tree) error {
	if !tree.HasChanges() {
		return nil
	}
	delta := tree.Delta()
	if err := s.store.Apply(ctx, delta); err != nil {
		log.Debug().Err(err).
			Str("conversation_id", tree.ID().String()).
			Uint64("version", delta.Conversation.Version).
			Msg("could not persist conversation delta")
		return errors.Wrapf(err, "saving conversation %s", tree.ID())
	}
	tree.MarkCommitted()
	log.Debug().
		Str("conversation_id", tree.ID().String()).
		Int("saved_messages", len(delta.SavedMessages)).
		Int("deleted_messages", len(delta.DeletedMessages)).
		Int("saved_branches", len(delta.SavedBranches)).
		Int("deleted_branches", len(delta.DeletedBranches)).
		Msg("conversation delta persisted")
	return nil
}

func (s *Service) publish(ctx context.Context, ev *events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Object("event", ev).Msg("failed to publish conversation event")
	}
}

func (s *Service) CreateConversation(ctx context.Context, title string) (*conversation.Conversation, error) {
	c := conversation.NewConversation(strings.TrimSpace(title))
	if s.newID != nil {
		c.ID = s.newID()
	}
	if s.clock != nil {
		c.CreatedAt = s.clock()
		c.UpdatedAt = c.CreatedAt
	}
	tree := conversation.NewTree(c)
	if err := s.commit(ctx, tree); err != nil {
		return nil, err
	}
	s.publish(ctx, events.NewEvent(events.EventTypeConversationCreated, c.ID).WithName(c.Title).WithRevision(1))
	return tree.Conversation(), nil
}

func (s *Service) ListConversations(ctx context.Context) ([]*conversation.Conversation, error) {
	return s.store.ListConversations(ctx)
}

func (s *Service) DeleteConversation(ctx context.Context, id conversation.ID) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return errors.Wrapf(err, "deleting conversation %s", id)
	}
	s.publish(ctx, events.NewEvent(events.EventTypeConversationDeleted, id))
	return nil
}

// GetConversationStructure returns every message plus the per-branch view.
func (s *Service) GetConversationStructure(ctx context.Context, id conversation.ID) (*conversation.Structure, error) {
	tree, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return tree.Structure(), nil
}

func (s *Service) GetActivePath(ctx context.Context, id conversation.ID) (conversation.Thread, error) {
	tree, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return tree.ActivePath(), nil
}

func (s *Service) GetSiblingVersions(ctx context.Context, id, messageID conversation.ID) (*conversation.Versions, error) {
	tree, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return tree.Navigator().Versions(messageID)
}

func (s *Service) ListBranches(ctx context.Context, id conversation.ID) ([]*conversation.Branch, error) {
	tree, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return tree.Branches(), nil
}

func (s *Service) AddMessage(ctx context.Context, id, parentID conversation.ID, role conversation.Role, content string) (*conversation.Message, error) {
	var ret *conversation.Message
	_, err := s.mutate(ctx, id, func(_ context.Context, e *conversation.ForkEngine) (*events.Event, error) {
		m, err := e.AddMessage(id, parentID, role, content)
		if err != nil {
			return nil, err
		}
		ret = m
		return events.NewEvent(events.EventTypeMessageAdded, id).WithMessage(m.ID).WithBranch(m.BranchID), nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) EditMessage(ctx context.Context, id, messageID conversation.ID, content string) (*conversation.EditResult, error) {
	var ret *conversation.EditResult
	_, err := s.mutate(ctx, id, func(_ context.Context, e *conversation.ForkEngine) (*events.Event, error) {
		res, err := e.EditMessage(messageID, content)
		if err != nil {
			return nil, err
		}
		ret = res
		return events.NewEvent(events.EventTypeMessageEdited, id).
			WithMessage(res.NewMessage.ID).
			WithBranch(res.NewMessage.BranchID).
			WithRemoved(res.DiscardedIDs), nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Regenerate adds an alternate assistant reply. With empty content the
// responder writes the new reply from the thread leading up to it.
func (s *Service) Regenerate(ctx context.Context, id, messageID conversation.ID, content string) (*conversation.Message, error) {
	var ret *conversation.Message
	_, err := s.mutate(ctx, id, func(ctx context.Context, e *conversation.ForkEngine) (*events.Event, error) {
		evType := events.EventTypeMessageRegenerated
		if strings.TrimSpace(content) == "" {
			text, err := s.respondTo(ctx, e.Tree(), messageID, conversation.RoleAssistant)
			if err != nil {
				return nil, err
			}
			content = text
			evType = events.EventTypeReplyGenerated
		}
		m, err := e.Regenerate(messageID, content)
		if err != nil {
			return nil, err
		}
		ret = m
		return events.NewEvent(evType, id).WithMessage(m.ID).WithBranch(m.BranchID), nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Reply asks the responder to answer a user message and appends the answer
// as its child.
func (s *Service) Reply(ctx context.Context, id, messageID conversation.ID) (*conversation.Message, error) {
	var ret *conversation.Message
	_, err := s.mutate(ctx, id, func(ctx context.Context, e *conversation.ForkEngine) (*events.Event, error) {
		text, err := s.respondTo(ctx, e.Tree(), messageID, conversation.RoleUser)
		if err != nil {
			return nil, err
		}
		m, err := e.AddMessage(id, messageID, conversation.RoleAssistant, text)
		if err != nil {
			return nil, err
		}
		ret = m
		return events.NewEvent(events.EventTypeReplyGenerated, id).WithMessage(m.ID).WithBranch(m.BranchID), nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// respondTo builds the prompt thread for messageID, which must have role
// want. For a user message the thread ends at that message; for an assistant
// message it ends at the message's parent.
func (s *Service) respondTo(ctx context.Context, tree *conversation.Tree, messageID conversation.ID, want conversation.Role) (string, error) {
	m, err := tree.Message(messageID)
	if err != nil {
		return "", err
	}
	if m.Role != want {
		return "", &conversation.InvalidOperationError{
			Op:     "respond",
			Reason: "message " + messageID.String() + " has role " + m.Role.String() + ", expected " + want.String(),
		}
	}
	promptEnd := m.ID
	if want == conversation.RoleAssistant {
		promptEnd = m.ParentID
	}
	var thread conversation.Thread
	if !promptEnd.IsNull() {
		thread, err = tree.Thread(promptEnd)
		if err != nil {
			return "", err
		}
	}
	text, err := s.responder.Respond(ctx, thread)
	if err != nil {
		if errors.Is(err, responder.ErrNoResponder) {
			return "", &conversation.InvalidOperationError{Op: "respond", Reason: err.Error()}
		}
		return "", errors.Wrap(err, "responder failed")
	}
	return text, nil
}

func (s *Service) SelectVersion(ctx context.Context, id, messageID conversation.ID) (*conversation.Branch, error) {
	var ret *conversation.Branch
	_, err := s.mutate(ctx, id, func(_ context.Context, e *conversation.ForkEngine) (*events.Event, error) {
		b, err := e.SelectVersion(messageID)
		if err != nil {
			return nil, err
		}
		ret = b
		return events.NewEvent(events.EventTypeVersionSelected, id).WithMessage(messageID).WithBranch(b.ID), nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) Fork(ctx context.Context, id, fromMessageID conversation.ID, name string) (*conversation.Branch, error) {
	var ret *conversation.Branch
	_, err := s.mutate(ctx, id, func(_ context.Context, e *conversation.ForkEngine) (*events.Event, error) {
		b, err := e.Fork(fromMessageID, name)
		if err != nil {
			return nil, err
		}
		ret = b
		return events.NewEvent(events.EventTypeBranchForked, id).
			WithMessage(fromMessageID).
			WithBranch(b.ID).
			WithName(b.Name), nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) ActivateBranch(ctx context.Context, id, branchID conversation.ID) (*conversation.Branch, error) {
	tree, err := s.mutate(ctx, id, func(_ context.Context, e *conversation.ForkEngine) (*events.Event, error) {
		if err := e.ActivateBranch(branchID); err != nil {
			return nil, err
		}
		return events.NewEvent(events.EventTypeBranchActivated, id).WithBranch(branchID), nil
	})
	if err != nil {
		return nil, err
	}
	return tree.Branch(branchID)
}

func (s *Service) RenameBranch(ctx context.Context, id, branchID conversation.ID, name string) (*conversation.Branch, error) {
	tree, err := s.mutate(ctx, id, func(_ context.Context, e *conversation.ForkEngine) (*events.Event, error) {
		if err := e.RenameBranch(branchID, name); err != nil {
			return nil, err
		}
		return events.NewEvent(events.EventTypeBranchRenamed, id).WithBranch(branchID).WithName(name), nil
	})
	if err != nil {
		return nil, err
	}
	return tree.Branch(branchID)
}

// DeleteBranch returns the ids of the messages removed with the branch.
func (s *Service) DeleteBranch(ctx context.Context, id, branchID conversation.ID) ([]conversation.ID, error) {
	var ret []conversation.ID
	_, err := s.mutate(ctx, id, func(_ context.Context, e *conversation.ForkEngine) (*events.Event, error) {
		removed, err := e.DeleteBranch(branchID)
		if err != nil {
			return nil, err
		}
		ret = removed
		return events.NewEvent(events.EventTypeBranchDeleted, id).WithBranch(branchID).WithRemoved(removed), nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}
