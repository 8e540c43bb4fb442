package cqlcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/datacodec"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/google/uuid"

	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/types"
)

// Statement is a request the session can execute: *Query, *BoundStatement or *Batch.
type Statement interface {
	options() *statementOptions
	routingKey() []byte
	buildMessage(p messageParams) (message.Message, error)
	preparedByID(id []byte) *Prepared
}

// messageParams are the per-attempt inputs of a request message.
type messageParams struct {
	version     primitive.ProtocolVersion
	consistency types.Consistency
	serial      types.Consistency
	timestamp   int64
}

// statementOptions are the execution settings shared by every statement kind.
type statementOptions struct {
	consistency    types.Consistency
	hasConsistency bool
	serial         types.Consistency
	idempotent     bool
	timeout        time.Duration
	pageSize       int32
	pagingState    []byte
	routingKey     []byte
	timestamp      int64
	retryPolicy    policy.RetryPolicy
	keyspace       string
	profile        string
}

func (o *statementOptions) queryOptions(p messageParams, values []*primitive.Value) *message.QueryOptions {
	qo := &message.QueryOptions{
		Consistency:      toWireConsistency(p.consistency),
		PositionalValues: values,
		PageSize:         o.pageSize,
		PagingState:      o.pagingState,
	}
	if p.serial != 0 {
		serial := toWireConsistency(p.serial)
		qo.SerialConsistency = &serial
	}
	if p.timestamp != 0 && p.version >= primitive.ProtocolVersion3 {
		ts := p.timestamp
		qo.DefaultTimestamp = &ts
	}

	return qo
}

// Query is a simple (unprepared) statement.
//
// Values are encoded from their Go type: string as text, int and int64 as
// bigint, int32 as int, bool, float32, float64, []byte as blob, uuid.UUID,
// time.Time as timestamp and nil as null. Use a prepared statement when the
// column type differs.
type Query struct {
	session *Session
	stmt    string
	values  []any
	opts    statementOptions
}

var _ Statement = (*Query)(nil)

// NewQuery creates a simple statement not bound to a session.
//
// Parameters:
//   - stmt: The CQL text with ? markers
//   - values: Positional values
//
// Returns:
//   - *Query: The statement, to pass to Session.Execute
func NewQuery(stmt string, values ...any) *Query {
	return &Query{stmt: stmt, values: values}
}

// Statement returns the CQL text.
func (q *Query) Statement() string { return q.stmt }

// Values returns the positional values.
func (q *Query) Values() []any { return q.values }

// Consistency sets the consistency level.
func (q *Query) Consistency(cl types.Consistency) *Query {
	q.opts.consistency, q.opts.hasConsistency = cl, true
	return q
}

// SerialConsistency sets the serial consistency level of conditional updates.
func (q *Query) SerialConsistency(cl types.Consistency) *Query {
	q.opts.serial = cl
	return q
}

// Idempotent marks the statement safe to retry and to execute speculatively.
func (q *Query) Idempotent(v bool) *Query {
	q.opts.idempotent = v
	return q
}

// Timeout overrides the request timeout.
func (q *Query) Timeout(d time.Duration) *Query {
	q.opts.timeout = d
	return q
}

// PageSize sets the number of rows per page; 0 disables paging.
func (q *Query) PageSize(n int) *Query {
	q.opts.pageSize = int32(n)
	return q
}

// PageState resumes paging from Result.PagingState.
func (q *Query) PageState(state []byte) *Query {
	q.opts.pagingState = state
	return q
}

// RoutingKey sets the serialized partition key used by token aware routing.
func (q *Query) RoutingKey(key []byte) *Query {
	q.opts.routingKey = key
	return q
}

// Keyspace sets the keyspace used for routing.
func (q *Query) Keyspace(keyspace string) *Query {
	q.opts.keyspace = keyspace
	return q
}

// WithTimestamp sets the client timestamp in microseconds.
func (q *Query) WithTimestamp(ts int64) *Query {
	q.opts.timestamp = ts
	return q
}

// RetryPolicy overrides the session retry policy.
func (q *Query) RetryPolicy(p policy.RetryPolicy) *Query {
	q.opts.retryPolicy = p
	return q
}

// ExecutionProfile selects a named execution profile of the session.
func (q *Query) ExecutionProfile(name string) *Query {
	q.opts.profile = name
	return q
}

// Exec executes the statement and discards the result.
func (q *Query) Exec(ctx context.Context) error {
	_, err := q.Result(ctx)
	return err
}

// Result executes the statement and returns its result.
func (q *Query) Result(ctx context.Context) (*Result, error) {
	return q.ExecAsync(ctx).Get(ctx)
}

// ExecAsync executes the statement without waiting.
func (q *Query) ExecAsync(ctx context.Context) *Future {
	if q.session == nil {
		return failedFuture(fmt.Errorf("%w: query is not bound to a session", types.ErrInternal))
	}

	return q.session.ExecuteAsync(ctx, q)
}

func (q *Query) options() *statementOptions { return &q.opts }

func (q *Query) routingKey() []byte { return q.opts.routingKey }

func (q *Query) preparedByID(_ []byte) *Prepared { return nil }

func (q *Query) buildMessage(p messageParams) (message.Message, error) {
	values, err := encodeValues(q.values, p.version)
	if err != nil {
		return nil, err
	}

	return &message.Query{Query: q.stmt, Options: q.opts.queryOptions(p, values)}, nil
}

func encodeValues(values []any, version primitive.ProtocolVersion) ([]*primitive.Value, error) {
	if len(values) == 0 {
		return nil, nil
	}

	out := make([]*primitive.Value, len(values))
	for i, v := range values {
		val, err := encodeValue(v, version)
		if err != nil {
			return nil, fmt.Errorf("cqlcore: value %d: %w", i, err)
		}
		out[i] = val
	}

	return out, nil
}

func encodeValue(v any, version primitive.ProtocolVersion) (*primitive.Value, error) {
	var (
		b   []byte
		err error
	)

	switch x := v.(type) {
	case nil:
		return primitive.NewNullValue(), nil
	case []byte:
		return primitive.NewValue(x), nil
	case string:
		b, err = datacodec.Varchar.Encode(x, version)
	case int:
		b, err = datacodec.Bigint.Encode(int64(x), version)
	case int64:
		b, err = datacodec.Bigint.Encode(x, version)
	case int32:
		b, err = datacodec.Int.Encode(x, version)
	case bool:
		b, err = datacodec.Boolean.Encode(x, version)
	case float32:
		b, err = datacodec.Float.Encode(x, version)
	case float64:
		b, err = datacodec.Double.Encode(x, version)
	case uuid.UUID:
		b, err = datacodec.Uuid.Encode(primitive.UUID(x), version)
	case time.Time:
		b, err = datacodec.Timestamp.Encode(x, version)
	default:
		return nil, fmt.Errorf("cannot infer the CQL type of %T, use a prepared statement", v)
	}
	if err != nil {
		return nil, err
	}

	return primitive.NewValue(b), nil
}

// Prepared is a statement prepared on the cluster.
//
// It is safe for concurrent use; Bind creates independent bound statements.
type Prepared struct {
	session   *Session
	query     string
	keyspace  string
	pkIndices []uint16
	variables []*message.ColumnMetadata
	codecs    []datacodec.Codec

	mu               sync.RWMutex
	id               []byte
	resultMetadataID []byte
}

func newPrepared(s *Session, query, keyspace string, res *message.PreparedResult) (*Prepared, error) {
	p := &Prepared{
		session:          s,
		query:            query,
		keyspace:         keyspace,
		id:               res.PreparedQueryId,
		resultMetadataID: res.ResultMetadataId,
	}

	if vm := res.VariablesMetadata; vm != nil {
		p.pkIndices = vm.PkIndices
		p.variables = vm.Columns
		p.codecs = make([]datacodec.Codec, len(vm.Columns))
		for i, col := range vm.Columns {
			codec, err := datacodec.NewCodec(col.Type)
			if err != nil {
				return nil, fmt.Errorf("cqlcore: bind variable %s: %w", col.Name, err)
			}
			p.codecs[i] = codec
		}
	}

	return p, nil
}

// Query returns the prepared CQL text.
func (p *Prepared) Query() string { return p.query }

// ID returns the server assigned statement id.
func (p *Prepared) ID() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.id
}

func (p *Prepared) update(res *message.PreparedResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.id = res.PreparedQueryId
	p.resultMetadataID = res.ResultMetadataId
}

func (p *Prepared) ids() ([]byte, []byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.id, p.resultMetadataID
}

// Variables returns the number of bind markers.
func (p *Prepared) Variables() int { return len(p.variables) }

// Bind creates a bound statement.
//
// Parameters:
//   - values: One value per bind marker, encoded with the column type
//
// Returns:
//   - *BoundStatement: The statement; binding errors surface at execution
func (p *Prepared) Bind(values ...any) *BoundStatement {
	return &BoundStatement{prepared: p, values: values, opts: statementOptions{keyspace: p.keyspace}}
}

// BoundStatement is a prepared statement with its values.
type BoundStatement struct {
	prepared *Prepared
	values   []any
	opts     statementOptions

	once    sync.Once
	encoded []*primitive.Value
	encErr  error
	encVer  primitive.ProtocolVersion
}

var _ Statement = (*BoundStatement)(nil)

// Prepared returns the statement the values are bound to.
func (b *BoundStatement) Prepared() *Prepared { return b.prepared }

// Consistency sets the consistency level.
func (b *BoundStatement) Consistency(cl types.Consistency) *BoundStatement {
	b.opts.consistency, b.opts.hasConsistency = cl, true
	return b
}

// SerialConsistency sets the serial consistency level of conditional updates.
func (b *BoundStatement) SerialConsistency(cl types.Consistency) *BoundStatement {
	b.opts.serial = cl
	return b
}

// Idempotent marks the statement safe to retry and to execute speculatively.
func (b *BoundStatement) Idempotent(v bool) *BoundStatement {
	b.opts.idempotent = v
	return b
}

// Timeout overrides the request timeout.
func (b *BoundStatement) Timeout(d time.Duration) *BoundStatement {
	b.opts.timeout = d
	return b
}

// PageSize sets the number of rows per page; 0 disables paging.
func (b *BoundStatement) PageSize(n int) *BoundStatement {
	b.opts.pageSize = int32(n)
	return b
}

// PageState resumes paging from Result.PagingState.
func (b *BoundStatement) PageState(state []byte) *BoundStatement {
	b.opts.pagingState = state
	return b
}

// WithTimestamp sets the client timestamp in microseconds.
func (b *BoundStatement) WithTimestamp(ts int64) *BoundStatement {
	b.opts.timestamp = ts
	return b
}

// RetryPolicy overrides the session retry policy.
func (b *BoundStatement) RetryPolicy(p policy.RetryPolicy) *BoundStatement {
	b.opts.retryPolicy = p
	return b
}

// ExecutionProfile selects a named execution profile of the session.
func (b *BoundStatement) ExecutionProfile(name string) *BoundStatement {
	b.opts.profile = name
	return b
}

// Exec executes the statement and discards the result.
func (b *BoundStatement) Exec(ctx context.Context) error {
	_, err := b.Result(ctx)
	return err
}

// Result executes the statement and returns its result.
func (b *BoundStatement) Result(ctx context.Context) (*Result, error) {
	return b.ExecAsync(ctx).Get(ctx)
}

// ExecAsync executes the statement without waiting.
func (b *BoundStatement) ExecAsync(ctx context.Context) *Future {
	return b.prepared.session.ExecuteAsync(ctx, b)
}

func (b *BoundStatement) options() *statementOptions { return &b.opts }

func (b *BoundStatement) preparedByID(id []byte) *Prepared {
	if bytes.Equal(b.prepared.ID(), id) {
		return b.prepared
	}

	return nil
}

// encode binds the values once per protocol version.
func (b *BoundStatement) encode(version primitive.ProtocolVersion) ([]*primitive.Value, error) {
	b.once.Do(func() {
		b.encVer = version
		b.encoded, b.encErr = b.prepared.encodeValues(b.values, version)
	})
	if b.encVer != version {
		return b.prepared.encodeValues(b.values, version)
	}

	return b.encoded, b.encErr
}

func (p *Prepared) encodeValues(values []any, version primitive.ProtocolVersion) ([]*primitive.Value, error) {
	if len(values) != len(p.variables) {
		return nil, fmt.Errorf("cqlcore: statement expects %d values, got %d", len(p.variables), len(values))
	}

	out := make([]*primitive.Value, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = primitive.NewNullValue()
			continue
		}
		if raw, ok := v.([]byte); ok && p.variables[i].Type.Code() != primitive.DataTypeCodeBlob {
			out[i] = primitive.NewValue(raw)
			continue
		}

		if id, ok := v.(uuid.UUID); ok {
			v = primitive.UUID(id)
		}

		b, err := p.codecs[i].Encode(v, version)
		if err != nil {
			return nil, fmt.Errorf("cqlcore: bind %s: %w", p.variables[i].Name, err)
		}
		out[i] = primitive.NewValue(b)
	}

	return out, nil
}

func (b *BoundStatement) routingKey() []byte {
	if b.opts.routingKey != nil {
		return b.opts.routingKey
	}

	pk := b.prepared.pkIndices
	if len(pk) == 0 {
		return nil
	}

	values, err := b.encode(primitive.ProtocolVersion4)
	if err != nil {
		return nil
	}

	if len(pk) == 1 {
		if int(pk[0]) >= len(values) {
			return nil
		}

		return values[pk[0]].Contents
	}

	// composite partition key: [len16][bytes][0] per component
	var buf bytes.Buffer
	for _, idx := range pk {
		if int(idx) >= len(values) {
			return nil
		}
		component := values[idx].Contents
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(component)))
		buf.Write(component)
		buf.WriteByte(0)
	}

	return buf.Bytes()
}

func (b *BoundStatement) buildMessage(p messageParams) (message.Message, error) {
	values, err := b.encode(p.version)
	if err != nil {
		return nil, err
	}

	id, resultMetadataID := b.prepared.ids()

	return &message.Execute{
		QueryId:          id,
		ResultMetadataId: resultMetadataID,
		Options:          b.opts.queryOptions(p, values),
	}, nil
}

// Batch groups statements executed as one request.
type Batch struct {
	session *Session
	kind    types.BatchType
	entries []batchEntry
	opts    statementOptions
}

type batchEntry struct {
	stmt   string
	values []any
	bound  *BoundStatement
}

var _ Statement = (*Batch)(nil)

// NewBatch creates a batch not bound to a session.
func NewBatch(kind types.BatchType) *Batch {
	return &Batch{kind: kind}
}

// Query adds a simple statement.
func (b *Batch) Query(stmt string, values ...any) *Batch {
	b.entries = append(b.entries, batchEntry{stmt: stmt, values: values})
	return b
}

// Bind adds a bound statement.
func (b *Batch) Bind(stmt *BoundStatement) *Batch {
	b.entries = append(b.entries, batchEntry{bound: stmt})
	return b
}

// Size returns the number of statements.
func (b *Batch) Size() int { return len(b.entries) }

// Type returns the batch type.
func (b *Batch) Type() types.BatchType { return b.kind }

// Consistency sets the consistency level.
func (b *Batch) Consistency(cl types.Consistency) *Batch {
	b.opts.consistency, b.opts.hasConsistency = cl, true
	return b
}

// SerialConsistency sets the serial consistency level of conditional updates.
func (b *Batch) SerialConsistency(cl types.Consistency) *Batch {
	b.opts.serial = cl
	return b
}

// Idempotent marks the batch safe to retry. Counter batches are never idempotent.
func (b *Batch) Idempotent(v bool) *Batch {
	b.opts.idempotent = v
	return b
}

// Timeout overrides the request timeout.
func (b *Batch) Timeout(d time.Duration) *Batch {
	b.opts.timeout = d
	return b
}

// WithTimestamp sets the client timestamp in microseconds.
func (b *Batch) WithTimestamp(ts int64) *Batch {
	b.opts.timestamp = ts
	return b
}

// RetryPolicy overrides the session retry policy.
func (b *Batch) RetryPolicy(p policy.RetryPolicy) *Batch {
	b.opts.retryPolicy = p
	return b
}

// ExecutionProfile selects a named execution profile of the session.
func (b *Batch) ExecutionProfile(name string) *Batch {
	b.opts.profile = name
	return b
}

// Exec executes the batch.
func (b *Batch) Exec(ctx context.Context) error {
	if b.session == nil {
		return fmt.Errorf("%w: batch is not bound to a session", types.ErrInternal)
	}

	return b.session.ExecuteBatch(ctx, b)
}

func (b *Batch) options() *statementOptions {
	if b.kind == types.CounterBatch {
		b.opts.idempotent = false
	}

	return &b.opts
}

func (b *Batch) routingKey() []byte {
	if b.opts.routingKey != nil {
		return b.opts.routingKey
	}

	for _, e := range b.entries {
		if e.bound != nil {
			return e.bound.routingKey()
		}
	}

	return nil
}

func (b *Batch) preparedByID(id []byte) *Prepared {
	for _, e := range b.entries {
		if e.bound != nil {
			if p := e.bound.preparedByID(id); p != nil {
				return p
			}
		}
	}

	return nil
}

func (b *Batch) buildMessage(p messageParams) (message.Message, error) {
	if b.kind > types.CounterBatch {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidBatchType, b.kind)
	}

	children := make([]*message.BatchChild, 0, len(b.entries))
	for i, e := range b.entries {
		if e.bound != nil {
			values, err := e.bound.encode(p.version)
			if err != nil {
				return nil, fmt.Errorf("cqlcore: batch statement %d: %w", i, err)
			}
			children = append(children, &message.BatchChild{Id: e.bound.prepared.ID(), Values: values})

			continue
		}

		values, err := encodeValues(e.values, p.version)
		if err != nil {
			return nil, fmt.Errorf("cqlcore: batch statement %d: %w", i, err)
		}
		children = append(children, &message.BatchChild{Query: e.stmt, Values: values})
	}

	msg := &message.Batch{
		Type:        primitive.BatchType(b.kind),
		Children:    children,
		Consistency: toWireConsistency(p.consistency),
	}
	if p.serial != 0 && p.version >= primitive.ProtocolVersion3 {
		serial := toWireConsistency(p.serial)
		msg.SerialConsistency = &serial
	}
	if p.timestamp != 0 && p.version >= primitive.ProtocolVersion3 {
		ts := p.timestamp
		msg.DefaultTimestamp = &ts
	}

	return msg, nil
}

// prepareRequest prepares a query through the request engine.
type prepareRequest struct {
	query string
	opts  statementOptions
}

var _ Statement = (*prepareRequest)(nil)

func (r *prepareRequest) options() *statementOptions { return &r.opts }

func (r *prepareRequest) routingKey() []byte { return nil }

func (r *prepareRequest) preparedByID(_ []byte) *Prepared { return nil }

func (r *prepareRequest) buildMessage(_ messageParams) (message.Message, error) {
	return &message.Prepare{Query: r.query}, nil
}
