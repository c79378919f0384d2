// Package syncwire defines the till-to-cloud push protocol.
//
// A push carries an ordered batch of items. Each item names a record by its
// client-assigned identifier and carries the record's full current state.
// Payloads form a closed union over the three synchronised record types;
// anything else is rejected at the boundary before it reaches storage.
package syncwire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/tillpos/internal/domain"
)

// Cloud endpoints.
const (
	PushPath  = "/api/v1/sync/push"
	TokenPath = "/api/v1/auth/token"
)

// TokenRequest exchanges a tenant's API key for a bearer token.
type TokenRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
	APIKey   string `json:"apiKey" binding:"required"`
}

// TokenResponse carries a bearer token for PushPath.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Item is one batch entry. ID is the outbox entry identifier and stays the
// same across retries; RecordID is the primary key of the record the
// payload describes.
type Item struct {
	ID        string          `json:"id" validate:"required"`
	RecordID  string          `json:"recordId" validate:"required"`
	Action    domain.Action   `json:"action" validate:"required,oneof=create update delete"`
	DataType  domain.DataType `json:"dataType" validate:"required,oneof=sales shifts cancelled_orders"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PushRequest is the body of a push.
type PushRequest struct {
	Items []Item `json:"items" validate:"required,min=1,dive"`
}

// PushResponse is the body of every push reply. There is no partial
// success: either every item was applied or none was.
type PushResponse struct {
	Success        bool       `json:"success"`
	ProcessedCount int        `json:"processedCount,omitempty"`
	Error          *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a rejected push.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned by the cloud.
const (
	CodeInvalidBatch   = "INVALID_BATCH"
	CodeInvalidItem    = "INVALID_ITEM"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeTenantMismatch = "TENANT_MISMATCH"
	CodeInternal       = "INTERNAL"
)

// ItemFromEntry converts an outbox entry into a batch item.
func ItemFromEntry(e domain.SyncLogEntry) Item {
	return Item{
		ID:        e.ID,
		RecordID:  e.RecordID,
		Action:    e.Action,
		DataType:  e.DataType,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
}

// NewRequest builds a push request from outbox entries, preserving order.
func NewRequest(entries []domain.SyncLogEntry) PushRequest {
	items := make([]Item, len(entries))
	for i, e := range entries {
		items[i] = ItemFromEntry(e)
	}
	return PushRequest{Items: items}
}

// Record is a decoded, validated payload. The set of implementations is
// closed: *Sale, *Shift, *CancelledOrder and *Tombstone.
type Record interface {
	RecordID() string
	DataType() domain.DataType
	isRecord()
}

var validate = validator.New()

// ErrInvalidItem wraps every boundary rejection.
var ErrInvalidItem = errors.New("invalid sync item")

// Decode validates an item and turns its payload into a typed record.
// Unknown data types and actions, a payload whose id differs from the
// item's recordId, unknown payload fields, and a sale whose tenders do not
// balance are all rejected.
func Decode(it Item) (Record, error) {
	if err := validate.Struct(it); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidItem, it.ID, err)
	}

	if it.Action == domain.ActionDelete {
		if it.DataType == domain.DataTypeCancelledOrders {
			return nil, fmt.Errorf("%w %q: cancelled orders cannot be deleted", ErrInvalidItem, it.ID)
		}
		// A tombstone needs only the id; the rest of a full-state payload
		// is ignored.
		var t Tombstone
		if err := decodePayload(it, &t, false); err != nil {
			return nil, err
		}
		t.Type = it.DataType
		return checkRecord(it, &t)
	}

	var rec Record
	switch it.DataType {
	case domain.DataTypeSales:
		var s Sale
		if err := decodePayload(it, &s, true); err != nil {
			return nil, err
		}
		if err := s.balanced(); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidItem, it.ID, err)
		}
		rec = &s
	case domain.DataTypeShifts:
		var s Shift
		if err := decodePayload(it, &s, true); err != nil {
			return nil, err
		}
		rec = &s
	case domain.DataTypeCancelledOrders:
		if it.Action != domain.ActionCreate {
			return nil, fmt.Errorf("%w %q: cancelled orders accept only create, got %s", ErrInvalidItem, it.ID, it.Action)
		}
		var c CancelledOrder
		if err := decodePayload(it, &c, true); err != nil {
			return nil, err
		}
		rec = &c
	default:
		return nil, fmt.Errorf("%w %q: unknown data type %q", ErrInvalidItem, it.ID, it.DataType)
	}
	return checkRecord(it, rec)
}

func decodePayload(it Item, v any, strict bool) error {
	dec := json.NewDecoder(bytes.NewReader(it.Payload))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w %q: payload: %v", ErrInvalidItem, it.ID, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w %q: payload: %v", ErrInvalidItem, it.ID, err)
	}
	return nil
}

func checkRecord(it Item, rec Record) (Record, error) {
	if rec.RecordID() != it.RecordID {
		return nil, fmt.Errorf("%w %q: payload id %q does not match recordId %q", ErrInvalidItem, it.ID, rec.RecordID(), it.RecordID)
	}
	return rec, nil
}

// Encode marshals a payload for the outbox.
func Encode(rec Record) (json.RawMessage, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", rec.DataType(), err)
	}
	return data, nil
}
