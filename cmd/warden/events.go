package main

import (
	"context"

	"github.com/guildwarden/warden/automod/scheduler"
	"github.com/guildwarden/warden/platform"
)

func (s *Server) handleReady(ctx context.Context, evt *platform.Ready) error {
	s.logger.Info("gateway ready", "botUser", evt.User.ID, "session", evt.SessionID)
	return nil
}

// Gateway callbacks only enqueue. The scheduler runs the work on its own context, so it completes even if the connection drops.
func (s *Server) handleInteraction(ctx context.Context, evt *platform.Interaction) error {
	eventsReceived.WithLabelValues("interaction").Inc()
	return s.sched.AddWork(ctx, scheduler.CommandKey(evt.Command, evt.User.ID), func(ctx context.Context) error {
		s.dispatcher.Dispatch(ctx, evt)
		return nil
	})
}

func (s *Server) handleMessage(ctx context.Context, evt *platform.Message) error {
	eventsReceived.WithLabelValues("message").Inc()
	return s.sched.AddWork(ctx, scheduler.MessageKey(evt.ChannelID, evt.ID), func(ctx context.Context) error {
		if err := s.engine.ProcessMessage(ctx, evt); err != nil {
			s.logger.Error("failed to process message", "community", evt.CommunityID, "message", evt.ID, "err", err)
			return err
		}
		return nil
	})
}

func (s *Server) handleMemberJoin(ctx context.Context, evt *platform.MemberJoin) error {
	eventsReceived.WithLabelValues("member_join").Inc()
	return s.sched.AddWork(ctx, scheduler.MemberKey(evt.CommunityID, evt.User.ID), func(ctx context.Context) error {
		if err := s.engine.ProcessMemberJoin(ctx, evt); err != nil {
			s.logger.Warn("failed to process member join", "community", evt.CommunityID, "user", evt.User.ID, "err", err)
			return err
		}
		return nil
	})
}

func (s *Server) handleCommunityJoin(ctx context.Context, evt *platform.CommunityJoin) error {
	eventsReceived.WithLabelValues("community_join").Inc()
	return s.sched.AddWork(ctx, scheduler.MemberKey(evt.CommunityID, evt.OwnerID), func(ctx context.Context) error {
		if err := s.engine.ProcessCommunityJoin(ctx, evt); err != nil {
			s.logger.Error("failed to bootstrap community", "community", evt.CommunityID, "err", err)
			return err
		}
		return nil
	})
}
