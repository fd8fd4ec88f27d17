package procurement

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Typed requests accepted by the engine. Optional fields are pointers so an absent value
// falls back to the EngineConfig default rather than to the zero value.

type RecommendationRequest struct {
	AnalysisDepthDays  *int     `json:"analysisDepthDays" validate:"omitempty,gt=0,lte=3650"`
	Categories         []string `json:"categories" validate:"omitempty,dive,required"`
	IncludeSeasonality *bool    `json:"includeSeasonality"`
}

type AnomalyRequest struct {
	AnalysisDepthDays           *int     `json:"analysisDepthDays" validate:"omitempty,gt=0,lte=3650"`
	DailyThresholdMultiplier    *float64 `json:"dailyThresholdMultiplier" validate:"omitempty,gt=0"`
	CategoryThresholdMultiplier *float64 `json:"categoryThresholdMultiplier" validate:"omitempty,gt=0"`
	UnusualItemThreshold        *float64 `json:"unusualItemThreshold" validate:"omitempty,gt=0"`
}

type TrendRequest struct {
	TimeRange          *int     `json:"timeRange" validate:"omitempty,gt=0,lte=3650"`
	Granularity        string   `json:"granularity" validate:"omitempty,oneof=daily weekly monthly"`
	Categories         []string `json:"categories" validate:"omitempty,dive,required"`
	IncludeForecasting *bool    `json:"includeForecasting"`
}

type FeedbackRequest struct {
	RecommendationId    string          `json:"recommendationId" validate:"max=100"`
	ItemName            string          `json:"itemName" validate:"required,max=255"`
	Category            string          `json:"category" validate:"max=100"`
	RecommendedQuantity *int            `json:"recommendedQuantity" validate:"omitempty,gte=0"`
	ActualQuantity      *int            `json:"actualQuantity" validate:"omitempty,gte=0"`
	RecommendedPriority *int            `json:"recommendedPriority" validate:"omitempty,min=1,max=5"`
	ActualPriority      *int            `json:"actualPriority" validate:"omitempty,min=1,max=5"`
	UserAction          string          `json:"userAction" validate:"required"`
	Feedback            string          `json:"feedback"`
	ContextData         json.RawMessage `json:"contextData"`
}

// maxFeedbackBatch matches the max tag on BatchFeedbackRequest.Feedbacks.
const maxFeedbackBatch = 100

// BatchFeedbackRequest items are validated one by one; an invalid item fails alone.
type BatchFeedbackRequest struct {
	Feedbacks []FeedbackRequest `json:"feedbacks" validate:"required,min=1,max=100"`
}

type PersonalizedRequest struct {
	RecommendationRequest
	MinConfidence *float64 `json:"minConfidence" validate:"omitempty,gte=0,lte=1"`
}

type MetricsUpdateRequest struct {
	// Date is YYYY-MM-DD in the engine time zone; empty means today.
	Date             string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ForceRecalculate bool   `json:"forceRecalculate"`
}

type MetricsQueryRequest struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"required,datetime=2006-01-02"`
}

type RecomputePreferencesRequest struct {
	SinceDays *int `json:"sinceDays" validate:"omitempty,gt=0,lte=3650"`
}

type PreferencesQueryRequest struct {
	MinConfidence  *float64 `json:"minConfidence" validate:"omitempty,gte=0,lte=1"`
	PreferenceType string   `json:"preferenceType" validate:"omitempty,oneof=category_priority quantity_adjustment priority_adjustment seasonal_adjustment"`
}

type InventoryUpdateRequest struct {
	ItemName        string  `json:"itemName" validate:"required,max=255"`
	Delta           int     `json:"delta"`
	Category        string  `json:"category" validate:"max=100"`
	Unit            string  `json:"unit" validate:"max=50"`
	StorageLocation string  `json:"storageLocation" validate:"max=255"`
	ProductionDate  *string `json:"productionDate"`
	ExpiryDate      *string `json:"expiryDate"`
	WarrantyPeriod  string  `json:"warrantyPeriod" validate:"max=100"`
}

type ImportOrdersRequest struct {
	Orders          []OrderInput `json:"orders" validate:"required,min=1,dive"`
	UpdateInventory bool         `json:"updateInventory"`
}

type OrderInput struct {
	ID              string           `json:"id" validate:"required,max=100"`
	StoreName       string           `json:"storeName" validate:"max=255"`
	TotalPrice      *decimal.Decimal `json:"totalPrice"`
	DeliveryCost    decimal.Decimal  `json:"deliveryCost"`
	PayFee          decimal.Decimal  `json:"payFee"`
	PurchaseDate    string           `json:"purchaseDate" validate:"required"`
	PurchaseChannel string           `json:"purchaseChannel" validate:"max=100"`
	Items           []LineItemInput  `json:"items" validate:"required,min=1,dive"`
}

type LineItemInput struct {
	ItemName  string          `json:"itemName" validate:"required,max=255"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Model     string          `json:"model" validate:"max=255"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Category  string          `json:"category" validate:"max=100"`
}

type ApplyRecommendationsRequest struct {
	Items []ApplyItem `json:"items" validate:"omitempty,dive"`
	RecommendationRequest
}

type ApplyItem struct {
	ItemName          string `json:"itemName" validate:"required,max=255"`
	SuggestedQuantity int    `json:"suggestedQuantity" validate:"gt=0"`
	Priority          int    `json:"priority" validate:"min=1,max=5"`
	Reason            string `json:"reason"`
}

type ShoppingListRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=pending completed"`
}

type CompleteShoppingItemRequest struct {
	ItemName string `json:"itemName" validate:"required"`
}

type SpendingReportRequest struct {
	AnalysisDepthDays *int   `json:"analysisDepthDays" validate:"omitempty,gt=0,lte=3650"`
	Granularity       string `json:"granularity" validate:"omitempty,oneof=daily weekly monthly"`
}
