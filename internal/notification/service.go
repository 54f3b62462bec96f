package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	authrepo "github.com/PBLIZZ/app-omnicrm-sub012/internal/auth/repository"
	jobdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/domain"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes to the watch topic.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Enqueuer is the slice of the job runner the service needs.
type Enqueuer interface {
	Enqueue(userID string, kind jobdomain.JobKind, payload jobdomain.JobPayload) (*jobdomain.Job, error)
}

// Service listens on the Gmail watch Pub/Sub subscription and turns change
// notifications into mail sync jobs. It is a trigger, not a processor: the
// actual fetching happens in the job runner.
type Service struct {
	pubsubClient *pubsub.Client
	userRepo     authrepo.UserRepository
	jobs         Enqueuer
	projectID    string
	topicName    string
	subName      string

	// Deduplication: track last historyId per user so a burst of
	// notifications enqueues one sync, not one per message.
	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewService(projectID, topicName string, userRepo authrepo.UserRepository, jobs Enqueuer, credentialsFile string) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %v", err)
	}

	return &Service{
		pubsubClient:  client,
		userRepo:      userRepo,
		jobs:          jobs,
		projectID:     projectID,
		topicName:     topicName,
		subName:       topicName + "-sub", // Convention: topic-sub
		lastHistoryID: make(map[string]uint64),
	}, nil
}

func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting notification service with topic: %s, subscription: %s", s.topicName, s.subName)

	// Ensure subscription exists
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] Error checking subscription existence: %v", err)
		return
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Printf("[PubSub] Error checking topic existence: %v", err)
			return
		}

		if !topicExists {
			log.Printf("[PubSub] Topic %s does not exist, cannot create subscription", s.topicName)
			return
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[PubSub] Failed to create subscription: %v", err)
			return
		}
		log.Printf("[PubSub] Created subscription: %s", s.subName)
	}

	log.Printf("[PubSub] Listening for messages on subscription: %s", s.subName)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(msg)
		msg.Ack()
	})
	if err != nil {
		log.Printf("[PubSub] Error receiving messages: %v", err)
	}
}

func (s *Service) handleMessage(msg *pubsub.Message) {
	var notification GmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		log.Printf("[PubSub] Failed to unmarshal notification: %v", err)
		return
	}

	log.Printf("[PubSub] Received notification for: %s (historyId: %d)", notification.EmailAddress, notification.HistoryID)

	user, err := s.userRepo.FindByEmail(notification.EmailAddress)
	if err != nil {
		log.Printf("[PubSub] Error finding user by email %s: %v", notification.EmailAddress, err)
		return
	}
	if user == nil {
		log.Printf("[PubSub] User not found for email: %s", notification.EmailAddress)
		return
	}

	if s.isDuplicate(user.ID, notification.HistoryID) {
		log.Printf("[PubSub] Skipping duplicate notification for user %s (historyId %d)", user.ID, notification.HistoryID)
		return
	}

	job, err := s.jobs.Enqueue(user.ID, jobdomain.KindMailSync, jobdomain.JobPayload{})
	if err != nil {
		log.Printf("[PubSub] Failed to enqueue mail sync for user %s: %v", user.ID, err)
		return
	}
	log.Printf("[PubSub] Enqueued mail sync job %s for user %s", job.ID, user.ID)
}

func (s *Service) isDuplicate(userID string, historyID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastHistoryID[userID]; ok && historyID <= last {
		return true
	}
	s.lastHistoryID[userID] = historyID
	return false
}
