package xsender

// 默认配置值。
const (
	// DefaultDatabase 默认数据库名。
	DefaultDatabase = "msggate"

	// DefaultSenderCollection 发送者档案集合名。
	DefaultSenderCollection = "senders"

	// DefaultViolationCollection 违规记录集合名。
	DefaultViolationCollection = "violations"

	// DefaultTier 新建档案的初始层级。
	DefaultTier = "new_user"

	// DefaultListLimit 列表查询的默认条数上限。
	DefaultListLimit = 100
)

// options 存储配置。
type options struct {
	database            string
	senderCollection    string
	violationCollection string
	defaultTier         string
	listLimit           int64
	logger              Logger
}

// defaultOptions 返回默认配置。
func defaultOptions() *options {
	return &options{
		database:            DefaultDatabase,
		senderCollection:    DefaultSenderCollection,
		violationCollection: DefaultViolationCollection,
		defaultTier:         DefaultTier,
		listLimit:           DefaultListLimit,
	}
}

// Option 存储配置选项。
type Option func(*options)

// WithDatabase 设置数据库名。
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithCollections 设置集合名。
func WithCollections(senders, violations string) Option {
	return func(o *options) {
		if senders != "" {
			o.senderCollection = senders
		}
		if violations != "" {
			o.violationCollection = violations
		}
	}
}

// WithDefaultTier 设置新建档案的初始层级。
func WithDefaultTier(tier string) Option {
	return func(o *options) {
		if tier != "" {
			o.defaultTier = tier
		}
	}
}

// WithListLimit 设置列表查询的默认条数上限。
func WithListLimit(limit int64) Option {
	return func(o *options) {
		if limit > 0 {
			o.listLimit = limit
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
