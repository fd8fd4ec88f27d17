package models

import (
	"fmt"
	"strings"
)

type ShoppingListStatus string

const (
	ShoppingListStatusPending   ShoppingListStatus = "pending"
	ShoppingListStatusCompleted ShoppingListStatus = "completed"
)

func (s ShoppingListStatus) IsValid() bool {
	switch s {
	case ShoppingListStatusPending, ShoppingListStatusCompleted:
		return true
	}
	return false
}

type UserAction string

const (
	UserActionAccepted UserAction = "accepted"
	UserActionRejected UserAction = "rejected"
	UserActionModified UserAction = "modified"
	UserActionIgnored  UserAction = "ignored"
)

func (a UserAction) IsValid() bool {
	switch a {
	case UserActionAccepted, UserActionRejected, UserActionModified, UserActionIgnored:
		return true
	}
	return false
}

// ParseUserAction accepts any letter case.
func ParseUserAction(s string) (UserAction, error) {
	a := UserAction(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("invalid user action %q", s)
	}
	return a, nil
}

type PreferenceType string

const (
	PreferenceTypeCategoryPriority   PreferenceType = "category_priority"
	PreferenceTypeQuantityAdjustment PreferenceType = "quantity_adjustment"
	PreferenceTypePriorityAdjustment PreferenceType = "priority_adjustment"
	PreferenceTypeSeasonalAdjustment PreferenceType = "seasonal_adjustment"
)

func (t PreferenceType) IsValid() bool {
	switch t {
	case PreferenceTypeCategoryPriority, PreferenceTypeQuantityAdjustment, PreferenceTypePriorityAdjustment, PreferenceTypeSeasonalAdjustment:
		return true
	}
	return false
}

// Engine event types written to the outbox.
const (
	EngineEventFeedbackRecorded    = "feedback.recorded"
	EngineEventShoppingListUpdated = "shopping_list.updated"
	EngineEventMetricsUpdated      = "metrics.updated"
)

// Outbox publish statuses.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
