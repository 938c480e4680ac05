package ledger

import (
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/yanun0323/errors"

	"poscheck/internal/schema"
)

// Payload types understood by the ledger.
const (
	TypeCheck  = "CHECK"
	TypeUpdate = "UPDATE"
	TypeResult = "RESULT"
)

// Status is the outcome of one ledger operation.
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// Rejection reasons.
const (
	ReasonUnknownOperation = "unknown operation"
	ReasonMalformed        = "malformed operation"
	ReasonNonPositive      = "quantity must be positive"
	ReasonInsufficient     = "insufficient inventory"
	ReasonNegativeResult   = "update would make inventory negative"
)

// Operation is a parsed CHECK or UPDATE request. The body form is "key:amount".
type Operation struct {
	Type   string
	Key    string
	Amount schema.Quantity
}

// ParseOperation reads the operation carried by a request payload.
func ParseOperation(p schema.Payload) (Operation, error) {
	opType := strings.ToUpper(strings.TrimSpace(p.PayloadType))
	body := strings.TrimSpace(p.Payload)
	idx := strings.LastIndexByte(body, ':')
	if idx <= 0 || idx == len(body)-1 {
		return Operation{Type: opType}, errors.Errorf("operation body %q is not key:amount", body)
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(body[idx+1:]), 10, 64)
	if err != nil {
		return Operation{Type: opType}, errors.Wrap(err, "parse amount").With("body", body)
	}
	return Operation{
		Type:   opType,
		Key:    strings.TrimSpace(body[:idx]),
		Amount: schema.Quantity(amount),
	}, nil
}

// Result is the body of a RESULT payload.
type Result struct {
	RequestUID string          `json:"requestUid"`
	Seq        uint64          `json:"seq"`
	Operation  string          `json:"operation"`
	Key        string          `json:"key,omitempty"`
	Amount     schema.Quantity `json:"amount"`
	Status     Status          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Quantity   schema.Quantity `json:"quantity"`
	Version    uint64          `json:"version"`
}

// Payload renders the result for the outbound pipeline. The uid is derived from the request uid
// and the created time is the request's, so replaying the same request yields the same payload.
func (r Result) Payload(requestCreatedTime int64) (schema.Payload, error) {
	body, err := sonic.ConfigFastest.MarshalToString(r)
	if err != nil {
		return schema.Payload{}, errors.Wrap(err, "marshal result").With("seq", r.Seq)
	}
	return schema.Payload{
		PayloadType: TypeResult,
		Payload:     body,
		UID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(r.RequestUID)).String(),
		CreatedTime: requestCreatedTime,
	}, nil
}

// ParseResult decodes the body of a RESULT payload.
func ParseResult(p schema.Payload) (Result, error) {
	var r Result
	if p.PayloadType != TypeResult {
		return r, errors.Errorf("payload type %q is not %s", p.PayloadType, TypeResult)
	}
	if err := sonic.UnmarshalString(p.Payload, &r); err != nil {
		return r, errors.Wrap(err, "unmarshal result")
	}
	return r, nil
}

// apply checks and mutates records for one request. It is a pure function of the current
// records and the request, which keeps replays deterministic.
func apply(records map[string]schema.InventoryRecord, seq uint64, p schema.Payload) (Result, bool) {
	res := Result{RequestUID: p.UID, Seq: seq, Operation: strings.ToUpper(p.PayloadType)}

	op, err := ParseOperation(p)
	switch {
	case op.Type != TypeCheck && op.Type != TypeUpdate:
		return reject(res, ReasonUnknownOperation), false
	case err != nil || op.Key == "":
		return reject(res, ReasonMalformed), false
	}
	res.Key, res.Amount = op.Key, op.Amount

	current, exists := records[op.Key]
	res.Quantity, res.Version = current.Quantity, current.Version

	var next schema.Quantity
	switch op.Type {
	case TypeCheck:
		if op.Amount <= 0 {
			return reject(res, ReasonNonPositive), false
		}
		if !exists || current.Quantity < op.Amount {
			return reject(res, ReasonInsufficient), false
		}
		next = current.Quantity - op.Amount
	case TypeUpdate:
		next = current.Quantity + op.Amount
		if next < 0 {
			return reject(res, ReasonNegativeResult), false
		}
	}

	updated := schema.InventoryRecord{
		Key:       op.Key,
		Quantity:  next,
		Version:   current.Version + 1,
		UpdatedAt: p.CreatedTime,
	}
	records[op.Key] = updated

	res.Status = StatusAccepted
	res.Quantity, res.Version = updated.Quantity, updated.Version
	return res, true
}

func reject(res Result, reason string) Result {
	res.Status = StatusRejected
	res.Reason = reason
	return res
}
