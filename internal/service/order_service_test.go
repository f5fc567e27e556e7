package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"orders-service/internal/metrics"
	"orders-service/internal/model"
	"orders-service/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOrderRepository is a mock implementation of OrderRepository.
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) CreateWithItems(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) Count(ctx context.Context, status *model.OrderStatus) (int, error) {
	args := m.Called(ctx, status)
	return args.Int(0), args.Error(1)
}

func (m *MockOrderRepository) FindPage(ctx context.Context, skip, take int, status *model.OrderStatus) ([]model.Order, error) {
	args := m.Called(ctx, skip, take, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Order), args.Error(1)
}

func (m *MockOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus) (*model.Order, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) MarkPaidAtomic(ctx context.Context, id uuid.UUID, chargeID, receiptURL string) (*repository.MarkPaidResult, error) {
	args := m.Called(ctx, id, chargeID, receiptURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.MarkPaidResult), args.Error(1)
}

// MockProductValidator is a mock implementation of ProductValidator.
type MockProductValidator struct {
	mock.Mock
}

func (m *MockProductValidator) Validate(ctx context.Context, ids []string) ([]model.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Product), args.Error(1)
}

// MockPaymentGateway is a mock implementation of PaymentGateway.
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) CreateSession(ctx context.Context, req model.PaymentSessionRequest) (json.RawMessage, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

type fixture struct {
	repo     *MockOrderRepository
	catalog  *MockProductValidator
	payments *MockPaymentGateway
	metrics  *metrics.Metrics
	service  OrderService
}

func newFixture() *fixture {
	return newFixtureWithLogger(zerolog.Nop())
}

func newFixtureWithLogger(logger zerolog.Logger) *fixture {
	f := &fixture{
		repo:     new(MockOrderRepository),
		catalog:  new(MockProductValidator),
		payments: new(MockPaymentGateway),
		metrics:  metrics.NewNop(),
	}
	f.service = NewOrderService(f.repo, f.catalog, f.payments, Config{
		Currency:       "usd",
		CatalogTimeout: time.Second,
		PaymentTimeout: time.Second,
	}, f.metrics, logger)
	return f
}

func catalogProducts() []model.Product {
	return []model.Product{
		{ID: "P1", Name: "Keyboard", Price: decimal.NewFromInt(10)},
		{ID: "P2", Name: "Mouse", Price: decimal.NewFromInt(25)},
	}
}

func TestOrderService_CreateOrder_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req := &model.OrderRequest{
		Items: []model.OrderItemRequest{
			{ProductID: "P1", Quantity: 2},
			{ProductID: "P2", Quantity: 1},
		},
	}

	f.catalog.On("Validate", mock.Anything, []string{"P1", "P2"}).Return(catalogProducts(), nil)
	f.repo.On("CreateWithItems", ctx, mock.AnythingOfType("*model.Order")).Return(nil)

	order, err := f.service.CreateOrder(ctx, req)

	require.NoError(t, err)
	require.NotNil(t, order)
	assert.NotEqual(t, uuid.Nil, order.ID)
	assert.Equal(t, model.StatusPending, order.Status)
	assert.False(t, order.Paid)
	assert.True(t, decimal.NewFromInt(45).Equal(order.TotalAmount), "got %s", order.TotalAmount)
	assert.Equal(t, 3, order.TotalItems)

	require.Len(t, order.Items, 2)
	assert.Equal(t, "Keyboard", order.Items[0].Name)
	assert.Equal(t, "Mouse", order.Items[1].Name)
	assert.True(t, decimal.NewFromInt(10).Equal(order.Items[0].Price))
	for _, item := range order.Items {
		assert.Equal(t, order.ID, item.OrderID)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrdersCreated))
	f.catalog.AssertExpectations(t)
	f.repo.AssertExpectations(t)
}

func TestOrderService_CreateOrder_DuplicateProductLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req := &model.OrderRequest{
		Items: []model.OrderItemRequest{
			{ProductID: "P1", Quantity: 1},
			{ProductID: "P1", Quantity: 2},
		},
	}

	f.catalog.On("Validate", mock.Anything, []string{"P1"}).Return(catalogProducts()[:1], nil)
	f.repo.On("CreateWithItems", ctx, mock.AnythingOfType("*model.Order")).Return(nil)

	order, err := f.service.CreateOrder(ctx, req)

	require.NoError(t, err)
	assert.Len(t, order.Items, 2)
	assert.Equal(t, 3, order.TotalItems)
	assert.True(t, decimal.NewFromInt(30).Equal(order.TotalAmount))
	f.catalog.AssertNumberOfCalls(t, "Validate", 1)
}

func TestOrderService_CreateOrder_UnknownProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req := &model.OrderRequest{
		Items: []model.OrderItemRequest{
			{ProductID: "P1", Quantity: 1},
			{ProductID: "P3", Quantity: 1},
		},
	}

	f.catalog.On("Validate", mock.Anything, []string{"P1", "P3"}).Return(catalogProducts()[:1], nil)

	order, err := f.service.CreateOrder(ctx, req)

	require.Error(t, err)
	assert.Nil(t, order)
	assert.Equal(t, model.KindValidation, model.KindOf(err))
	assert.Contains(t, err.Error(), "P3")

	var de *model.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, model.ErrCodeProductNotFound, de.Code)

	f.repo.AssertNotCalled(t, "CreateWithItems", mock.Anything, mock.Anything)
}

func TestOrderService_CreateOrder_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		req  *model.OrderRequest
		want error
	}{
		{
			name: "Nil request",
			req:  nil,
			want: model.ErrEmptyOrder,
		},
		{
			name: "Empty items",
			req:  &model.OrderRequest{Items: []model.OrderItemRequest{}},
			want: model.ErrEmptyOrder,
		},
		{
			name: "Zero quantity",
			req: &model.OrderRequest{Items: []model.OrderItemRequest{
				{ProductID: "P1", Quantity: 0},
			}},
			want: model.ErrInvalidQuantity,
		},
		{
			name: "Negative quantity",
			req: &model.OrderRequest{Items: []model.OrderItemRequest{
				{ProductID: "P1", Quantity: -2},
			}},
			want: model.ErrInvalidQuantity,
		},
		{
			name: "Blank product id",
			req: &model.OrderRequest{Items: []model.OrderItemRequest{
				{ProductID: "  ", Quantity: 1},
			}},
			want: model.ErrMissingProductID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			order, err := f.service.CreateOrder(context.Background(), tt.req)

			require.Error(t, err)
			assert.Nil(t, order)
			assert.Equal(t, tt.want, err)
			assert.Equal(t, model.KindValidation, model.KindOf(err))
			f.catalog.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
			f.repo.AssertNotCalled(t, "CreateWithItems", mock.Anything, mock.Anything)
		})
	}
}

func TestOrderService_CreateOrder_CatalogUnavailable(t *testing.T) {
	f := newFixture()

	f.catalog.On("Validate", mock.Anything, []string{"P1"}).
		Return(nil, errors.New("connection refused"))

	order, err := f.service.CreateOrder(context.Background(), &model.OrderRequest{
		Items: []model.OrderItemRequest{{ProductID: "P1", Quantity: 1}},
	})

	require.Error(t, err)
	assert.Nil(t, order)
	assert.Equal(t, model.KindDependency, model.KindOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DependencyErrors.WithLabelValues("catalog")))
	f.repo.AssertNotCalled(t, "CreateWithItems", mock.Anything, mock.Anything)
}

func TestOrderService_CreateOrder_NegativeCatalogPrice(t *testing.T) {
	f := newFixture()

	f.catalog.On("Validate", mock.Anything, []string{"P1"}).Return([]model.Product{
		{ID: "P1", Name: "Broken", Price: decimal.NewFromInt(-1)},
	}, nil)

	_, err := f.service.CreateOrder(context.Background(), &model.OrderRequest{
		Items: []model.OrderItemRequest{{ProductID: "P1", Quantity: 1}},
	})

	require.Error(t, err)
	assert.Equal(t, model.KindDependency, model.KindOf(err))
	f.repo.AssertNotCalled(t, "CreateWithItems", mock.Anything, mock.Anything)
}

func TestOrderService_CreateOrder_StorageFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.catalog.On("Validate", mock.Anything, []string{"P1"}).Return(catalogProducts()[:1], nil)
	f.repo.On("CreateWithItems", ctx, mock.AnythingOfType("*model.Order")).
		Return(errors.New("disk full"))

	order, err := f.service.CreateOrder(ctx, &model.OrderRequest{
		Items: []model.OrderItemRequest{{ProductID: "P1", Quantity: 1}},
	})

	require.Error(t, err)
	assert.Nil(t, order)
	assert.Equal(t, model.KindStorage, model.KindOf(err))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.OrdersCreated))
}

func TestOrderService_CreateOrder_CancelledBeforeWrite(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())

	f.catalog.On("Validate", mock.Anything, []string{"P1"}).
		Run(func(mock.Arguments) { cancel() }).
		Return(catalogProducts()[:1], nil)

	order, err := f.service.CreateOrder(ctx, &model.OrderRequest{
		Items: []model.OrderItemRequest{{ProductID: "P1", Quantity: 1}},
	})

	require.Error(t, err)
	assert.Nil(t, order)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.KindDependency, model.KindOf(err))

	var de *model.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, model.ErrCodeRequestAbandoned, de.Code)
	f.repo.AssertNotCalled(t, "CreateWithItems", mock.Anything, mock.Anything)
}

func TestOrderService_CreateOrder_SubCentPrices(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.catalog.On("Validate", mock.Anything, []string{"P1"}).Return([]model.Product{
		{ID: "P1", Name: "Sticker", Price: decimal.RequireFromString("0.333")},
	}, nil)

	var persisted *model.Order
	f.repo.On("CreateWithItems", ctx, mock.AnythingOfType("*model.Order")).
		Run(func(args mock.Arguments) { persisted = args.Get(1).(*model.Order) }).
		Return(nil)

	order, err := f.service.CreateOrder(ctx, &model.OrderRequest{
		Items: []model.OrderItemRequest{{ProductID: "P1", Quantity: 3}},
	})

	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.True(t, decimal.RequireFromString("0.999").Equal(order.TotalAmount), "got %s", order.TotalAmount)
	assert.True(t, decimal.RequireFromString("0.333").Equal(persisted.Items[0].Price))
	assert.True(t, order.TotalAmount.Equal(persisted.TotalAmount))
}

func TestOrderService_GetByID(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	id := uuid.New()
	stored := &model.Order{
		ID:     id,
		Status: model.StatusPending,
		Items: []model.OrderItem{
			{ProductID: "P1", Quantity: 2, Price: decimal.NewFromInt(10)},
			{ProductID: "P9", Quantity: 1, Price: decimal.NewFromInt(5)},
		},
	}

	f.repo.On("FindByID", ctx, id).Return(stored, nil)
	f.catalog.On("Validate", mock.Anything, []string{"P1", "P9"}).Return(catalogProducts()[:1], nil)

	order, err := f.service.GetByID(ctx, id)

	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Keyboard", order.Items[0].Name)
	assert.Empty(t, order.Items[1].Name)
}

func TestOrderService_GetByID_Errors(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name     string
		setup    func(f *fixture)
		wantKind model.ErrorKind
	}{
		{
			name: "Not found",
			setup: func(f *fixture) {
				f.repo.On("FindByID", mock.Anything, id).Return(nil, nil)
			},
			wantKind: model.KindNotFound,
		},
		{
			name: "Storage failure",
			setup: func(f *fixture) {
				f.repo.On("FindByID", mock.Anything, id).Return(nil, errors.New("connection reset"))
			},
			wantKind: model.KindStorage,
		},
		{
			name: "Catalog failure",
			setup: func(f *fixture) {
				f.repo.On("FindByID", mock.Anything, id).Return(&model.Order{
					ID:    id,
					Items: []model.OrderItem{{ProductID: "P1", Quantity: 1}},
				}, nil)
				f.catalog.On("Validate", mock.Anything, []string{"P1"}).
					Return(nil, model.NewDependencyError(model.ErrCodeCatalogUnavailable, "catalog down", nil))
			},
			wantKind: model.KindDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			order, err := f.service.GetByID(context.Background(), id)

			require.Error(t, err)
			assert.Nil(t, order)
			assert.Equal(t, tt.wantKind, model.KindOf(err))
		})
	}
}

func TestOrderService_List_Pagination(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	pending := model.StatusPending

	page := make([]model.Order, 5)
	f.repo.On("Count", ctx, &pending).Return(25, nil)
	f.repo.On("FindPage", ctx, 20, 10, &pending).Return(page, nil)

	result, err := f.service.List(ctx, model.ListOrdersRequest{Page: 3, Limit: 10, Status: &pending})

	require.NoError(t, err)
	assert.Len(t, result.Data, 5)
	assert.Equal(t, model.PageMeta{Total: 25, Page: 3, LastPage: 3}, result.Meta)
}

func TestOrderService_List_Empty(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.repo.On("Count", ctx, (*model.OrderStatus)(nil)).Return(0, nil)
	f.repo.On("FindPage", ctx, 0, 10, (*model.OrderStatus)(nil)).Return([]model.Order{}, nil)

	result, err := f.service.List(ctx, model.ListOrdersRequest{Page: 1, Limit: 10})

	require.NoError(t, err)
	assert.Empty(t, result.Data)
	assert.Equal(t, 0, result.Meta.LastPage)
}

func TestOrderService_List_InvalidRequest(t *testing.T) {
	bogus := model.OrderStatus("SHIPPED")

	tests := []struct {
		name string
		req  model.ListOrdersRequest
	}{
		{name: "Zero page", req: model.ListOrdersRequest{Page: 0, Limit: 10}},
		{name: "Zero limit", req: model.ListOrdersRequest{Page: 1, Limit: 0}},
		{name: "Limit too large", req: model.ListOrdersRequest{Page: 1, Limit: MaxPageLimit + 1}},
		{name: "Unknown status", req: model.ListOrdersRequest{Page: 1, Limit: 10, Status: &bogus}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			result, err := f.service.List(context.Background(), tt.req)

			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, model.KindValidation, model.KindOf(err))
			f.repo.AssertNotCalled(t, "Count", mock.Anything, mock.Anything)
		})
	}
}

func TestOrderService_ChangeStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := uuid.New()

	items := []model.OrderItem{{ProductID: "P1", Quantity: 1}, {ProductID: "P2", Quantity: 2}}
	f.repo.On("FindByID", ctx, id).Return(&model.Order{ID: id, Status: model.StatusPending, Items: items}, nil)
	f.repo.On("UpdateStatus", ctx, id, model.StatusDelivered).
		Return(&model.Order{ID: id, Status: model.StatusDelivered}, nil)
	f.catalog.On("Validate", mock.Anything, []string{"P1", "P2"}).Return(catalogProducts(), nil)

	order, err := f.service.ChangeStatus(ctx, id, model.StatusDelivered)

	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, order.Status)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Keyboard", order.Items[0].Name)
	assert.Equal(t, "Mouse", order.Items[1].Name)
}

func TestOrderService_ChangeStatus_CatalogDownKeepsChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := uuid.New()

	f.repo.On("FindByID", ctx, id).Return(&model.Order{
		ID:     id,
		Status: model.StatusPending,
		Items:  []model.OrderItem{{ProductID: "P1", Quantity: 1}},
	}, nil)
	f.repo.On("UpdateStatus", ctx, id, model.StatusCancelled).
		Return(&model.Order{ID: id, Status: model.StatusCancelled}, nil)
	f.catalog.On("Validate", mock.Anything, []string{"P1"}).Return(nil, errors.New("connection refused"))

	order, err := f.service.ChangeStatus(ctx, id, model.StatusCancelled)

	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, order.Status)
	require.Len(t, order.Items, 1)
	assert.Empty(t, order.Items[0].Name)
	f.repo.AssertExpectations(t)
}

func TestOrderService_ChangeStatus_SameStatusDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := uuid.New()

	current := &model.Order{ID: id, Status: model.StatusCancelled}
	f.repo.On("FindByID", ctx, id).Return(current, nil)

	order, err := f.service.ChangeStatus(ctx, id, model.StatusCancelled)

	require.NoError(t, err)
	assert.Same(t, current, order)
	f.repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderService_ChangeStatus_Errors(t *testing.T) {
	id := uuid.New()

	t.Run("Invalid status", func(t *testing.T) {
		f := newFixture()

		_, err := f.service.ChangeStatus(context.Background(), id, model.OrderStatus("LOST"))

		assert.Equal(t, model.KindValidation, model.KindOf(err))
		f.repo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("Not found", func(t *testing.T) {
		f := newFixture()
		f.repo.On("FindByID", mock.Anything, id).Return(nil, nil)

		_, err := f.service.ChangeStatus(context.Background(), id, model.StatusPaid)

		assert.Equal(t, model.KindNotFound, model.KindOf(err))
	})

	t.Run("Storage failure on update", func(t *testing.T) {
		f := newFixture()
		f.repo.On("FindByID", mock.Anything, id).Return(&model.Order{ID: id, Status: model.StatusPending}, nil)
		f.repo.On("UpdateStatus", mock.Anything, id, model.StatusPaid).Return(nil, errors.New("deadlock"))

		_, err := f.service.ChangeStatus(context.Background(), id, model.StatusPaid)

		assert.Equal(t, model.KindStorage, model.KindOf(err))
	})
}

func TestOrderService_CreatePaymentSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	order := &model.Order{
		ID: uuid.New(),
		Items: []model.OrderItem{
			{ProductID: "P1", Name: "Keyboard", Quantity: 2, Price: decimal.NewFromInt(10)},
		},
	}
	session := json.RawMessage(`{"url":"https://pay.example/cs_1"}`)

	f.payments.On("CreateSession", mock.Anything, mock.MatchedBy(func(req model.PaymentSessionRequest) bool {
		return req.OrderID == order.ID &&
			req.Currency == "usd" &&
			len(req.Items) == 1 &&
			req.Items[0].Name == "Keyboard" &&
			req.Items[0].Quantity == 2 &&
			req.Items[0].Price.Equal(decimal.NewFromInt(10))
	})).Return(session, nil)

	got, err := f.service.CreatePaymentSession(ctx, order)

	require.NoError(t, err)
	assert.JSONEq(t, string(session), string(got))
	f.repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderService_CreatePaymentSession_Failure(t *testing.T) {
	f := newFixture()

	f.payments.On("CreateSession", mock.Anything, mock.Anything).Return(nil, errors.New("gateway timeout"))

	_, err := f.service.CreatePaymentSession(context.Background(), &model.Order{ID: uuid.New()})

	require.Error(t, err)
	assert.Equal(t, model.KindDependency, model.KindOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DependencyErrors.WithLabelValues("payment")))
}

func TestOrderService_CreatePaymentSessionByID_AlreadyPaid(t *testing.T) {
	f := newFixture()
	id := uuid.New()

	f.repo.On("FindByID", mock.Anything, id).Return(&model.Order{ID: id, Status: model.StatusPaid, Paid: true}, nil)

	_, err := f.service.CreatePaymentSessionByID(context.Background(), id)

	require.Error(t, err)
	assert.Equal(t, model.KindValidation, model.KindOf(err))
	f.payments.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}

func TestOrderService_MarkPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := uuid.New()
	charge := "ch_1"

	paid := &model.Order{ID: id, Status: model.StatusPaid, Paid: true, PaymentChargeID: &charge}
	f.repo.On("MarkPaidAtomic", ctx, id, charge, "https://r/1").
		Return(&repository.MarkPaidResult{Order: paid}, nil).Once()
	f.repo.On("MarkPaidAtomic", ctx, id, charge, "https://r/1").
		Return(&repository.MarkPaidResult{Order: paid, Duplicate: true}, nil).Once()

	req := model.PaidOrderRequest{OrderID: id.String(), StripePaymentID: charge, ReceiptURL: "https://r/1"}

	first, err := f.service.MarkPaid(ctx, req)
	require.NoError(t, err)
	second, err := f.service.MarkPaid(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrdersPaid))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DuplicatePayments))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ChargeMismatches))
	f.repo.AssertExpectations(t)
}

func TestOrderService_MarkPaid_ChargeMismatch(t *testing.T) {
	f := newFixture()
	id := uuid.New()
	stored := "ch_1"

	f.repo.On("MarkPaidAtomic", mock.Anything, id, "ch_2", "https://r/2").Return(&repository.MarkPaidResult{
		Order:          &model.Order{ID: id, Paid: true, PaymentChargeID: &stored},
		Duplicate:      true,
		ChargeMismatch: true,
	}, nil)

	order, err := f.service.MarkPaid(context.Background(), model.PaidOrderRequest{
		OrderID: id.String(), StripePaymentID: "ch_2", ReceiptURL: "https://r/2",
	})

	require.NoError(t, err)
	assert.Equal(t, "ch_1", *order.PaymentChargeID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ChargeMismatches))
}

func TestOrderService_MarkPaid_UnknownOrder(t *testing.T) {
	f := newFixture()
	id := uuid.New()

	f.repo.On("MarkPaidAtomic", mock.Anything, id, "ch_1", "https://r/1").Return(nil, nil)

	order, err := f.service.MarkPaid(context.Background(), model.PaidOrderRequest{
		OrderID: id.String(), StripePaymentID: "ch_1", ReceiptURL: "https://r/1",
	})

	require.Error(t, err)
	assert.Nil(t, order)
	assert.Equal(t, model.KindIntegrity, model.KindOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IntegrityErrors))
}

func TestOrderService_MarkPaid_InvalidRequest(t *testing.T) {
	valid := uuid.New().String()

	tests := []struct {
		name string
		req  model.PaidOrderRequest
	}{
		{name: "Malformed order id", req: model.PaidOrderRequest{OrderID: "abc", StripePaymentID: "ch", ReceiptURL: "u"}},
		{name: "Missing charge id", req: model.PaidOrderRequest{OrderID: valid, ReceiptURL: "u"}},
		{name: "Missing receipt", req: model.PaidOrderRequest{OrderID: valid, StripePaymentID: "ch"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			_, err := f.service.MarkPaid(context.Background(), tt.req)

			assert.Equal(t, model.KindValidation, model.KindOf(err))
			f.repo.AssertNotCalled(t, "MarkPaidAtomic", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestOrderService_MarkPaid_MalformedOrderIDRaisesAlert(t *testing.T) {
	var logs bytes.Buffer
	f := newFixtureWithLogger(zerolog.New(&logs))

	_, err := f.service.MarkPaid(context.Background(), model.PaidOrderRequest{
		OrderID: "ord_42", StripePaymentID: "ch_1", ReceiptURL: "https://r/1",
	})

	assert.Equal(t, model.KindValidation, model.KindOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IntegrityErrors))
	assert.Contains(t, logs.String(), `"alert":true`)
	assert.Contains(t, logs.String(), `"order_id":"ord_42"`)
	f.repo.AssertNotCalled(t, "MarkPaidAtomic", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderService_MarkPaid_StorageFailure(t *testing.T) {
	f := newFixture()
	id := uuid.New()

	f.repo.On("MarkPaidAtomic", mock.Anything, id, "ch_1", "https://r/1").Return(nil, errors.New("serialization failure"))

	_, err := f.service.MarkPaid(context.Background(), model.PaidOrderRequest{
		OrderID: id.String(), StripePaymentID: "ch_1", ReceiptURL: "https://r/1",
	})

	assert.Equal(t, model.KindStorage, model.KindOf(err))
}
