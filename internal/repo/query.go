package repo

type (
	ComparisonOp   string
	OrderDirection string
	QueryField     string
)

const (
	Equal       ComparisonOp = "="
	NotEqual    ComparisonOp = "!="
	GreaterThan ComparisonOp = ">"
	LessThan    ComparisonOp = "<"

	Desc OrderDirection = "desc"
	Asc  OrderDirection = "asc"

	IDField            QueryField = "id"
	NameField          QueryField = "name"
	APIKeyIDField      QueryField = "api_key_id"
	KeyringIDField     QueryField = "keyring_id"
	TenantIDField      QueryField = "tenant_id"
	StepField          QueryField = "step"
	ExpiresField       QueryField = "expires"
	CreatedField       QueryField = "created_at"
	VaultSecretIDField QueryField = "vault_secret_id"
	LowerNameField     QueryField = "lower(name)"

	GenerationCountField QueryField = "generation_count"
	LastUsedField        QueryField = "last_used"
)

// Condition is one WHERE clause entry; conditions on a query are ANDed.
type Condition struct {
	Field QueryField
	Op    ComparisonOp
	Value any
}

type OrderField struct {
	Field     QueryField
	Direction OrderDirection
}

// Query collects filter, ordering and paging directives for a Repo call.
type Query struct {
	Conditions []Condition
	Orders     []OrderField
	Preloads   []string
	Limit      int
	Offset     int
	// UpdateFields limits Patch to the named columns; empty patches all
	// non-zero fields of the resource.
	UpdateFields []QueryField
}

func NewQuery() *Query {
	return &Query{Limit: DefaultLimit}
}

func (q *Query) Where(field QueryField, value any) *Query {
	return q.WhereOp(field, Equal, value)
}

func (q *Query) WhereOp(field QueryField, op ComparisonOp, value any) *Query {
	q.Conditions = append(q.Conditions, Condition{Field: field, Op: op, Value: value})
	return q
}

func (q *Query) Preload(assoc string) *Query {
	q.Preloads = append(q.Preloads, assoc)
	return q
}

func (q *Query) Order(field QueryField, direction OrderDirection) *Query {
	q.Orders = append(q.Orders, OrderField{Field: field, Direction: direction})
	return q
}

func (q *Query) Update(fields ...QueryField) *Query {
	q.UpdateFields = append(q.UpdateFields, fields...)
	return q
}

func (q *Query) SetLimit(limit int) *Query {
	q.Limit = limit
	return q
}

func (q *Query) SetOffset(offset int) *Query {
	q.Offset = offset
	return q
}
