package financing

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"solar-salesops/internal/common/auth"
	apperrors "solar-salesops/internal/common/errors"
	"solar-salesops/internal/common/logger"
	"solar-salesops/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestLogger(t *testing.T) logger.Logger {
	return logger.NewZapAdapter(zaptest.NewLogger(t))
}

func applicationColumns() []string {
	return []string{
		"id", "deal_id", "lender_id", "product_name", "status", "approved_amount", "approved_rate",
		"approved_term_months", "conditions", "denial_reason", "submitted_at", "decision_at", "created_at", "updated_at",
		"company_id",
	}
}

func expectApplicationLoad(mock sqlmock.Sqlmock, appID, dealID, companyID uuid.UUID, status models.FinancingStatus) {
	now := time.Now()
	mock.ExpectQuery(`FROM financing_applications a\s+JOIN deals d`).
		WithArgs(appID).
		WillReturnRows(sqlmock.NewRows(applicationColumns()).
			AddRow(appID, dealID, uuid.New(), "Solar Loan 25yr", string(status),
				nil, nil, nil, "", "", nil, nil, now, now, companyID))
}

func managerContext(companyID uuid.UUID) context.Context {
	return auth.WithActor(context.Background(), auth.Actor{
		ID:        uuid.New(),
		CompanyID: companyID,
		Role:      auth.RoleManager,
	})
}

func repContext(companyID uuid.UUID) context.Context {
	return auth.WithActor(context.Background(), auth.Actor{
		ID:        uuid.New(),
		CompanyID: companyID,
		Role:      auth.RoleRep,
	})
}

// ==========================
// UpdateStatus Tests
// ==========================

func TestUpdateStatus_LegalTransitionAppendsHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appID := uuid.New()
	dealID := uuid.New()
	companyID := uuid.New()

	expectApplicationLoad(mock, appID, dealID, companyID, models.FinancingSubmitted)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE financing_applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO financing_status_history`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE deals`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	service := NewService(db, createTestLogger(t))
	updated, err := service.UpdateStatus(repContext(companyID), appID, UpdateStatusInput{
		Status: models.FinancingUnderReview,
		Notes:  "lender picked it up",
	})

	require.NoError(t, err)
	assert.Equal(t, models.FinancingUnderReview, updated.Status)
	assert.Nil(t, updated.DecisionAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_ApprovalRecordsTerms(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appID := uuid.New()
	dealID := uuid.New()
	companyID := uuid.New()
	amount := decimal.RequireFromString("42500.00")
	rate := decimal.RequireFromString("4.99")
	term := 300

	expectApplicationLoad(mock, appID, dealID, companyID, models.FinancingUnderReview)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE financing_applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO financing_status_history`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE deals`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	service := NewService(db, createTestLogger(t))
	updated, err := service.UpdateStatus(managerContext(companyID), appID, UpdateStatusInput{
		Status:             models.FinancingApproved,
		ApprovedAmount:     &amount,
		ApprovedRate:       &rate,
		ApprovedTermMonths: &term,
	})

	require.NoError(t, err)
	assert.Equal(t, models.FinancingApproved, updated.Status)
	require.NotNil(t, updated.DecisionAt)
	assert.True(t, amount.Equal(*updated.ApprovedAmount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_IllegalTransitionWritesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appID := uuid.New()
	companyID := uuid.New()
	// Funding straight from submitted skips the decision entirely.
	expectApplicationLoad(mock, appID, uuid.New(), companyID, models.FinancingSubmitted)

	service := NewService(db, createTestLogger(t))
	_, err = service.UpdateStatus(managerContext(companyID), appID, UpdateStatusInput{
		Status: models.FinancingFunded,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_ConcurrentLoserGetsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appID := uuid.New()
	companyID := uuid.New()
	expectApplicationLoad(mock, appID, uuid.New(), companyID, models.FinancingSubmitted)
	mock.ExpectBegin()
	// Another request already moved the row; the status predicate misses.
	mock.ExpectExec(`UPDATE financing_applications`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	service := NewService(db, createTestLogger(t))
	_, err = service.UpdateStatus(repContext(companyID), appID, UpdateStatusInput{
		Status: models.FinancingUnderReview,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_DenialRequiresReason(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appID := uuid.New()
	companyID := uuid.New()
	expectApplicationLoad(mock, appID, uuid.New(), companyID, models.FinancingUnderReview)

	service := NewService(db, createTestLogger(t))
	_, err = service.UpdateStatus(managerContext(companyID), appID, UpdateStatusInput{
		Status: models.FinancingDenied,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation), "got %v", err)
	assert.Contains(t, err.Error(), "denial reason")
}

func TestUpdateStatus_DecisionRequiresManager(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appID := uuid.New()
	companyID := uuid.New()
	expectApplicationLoad(mock, appID, uuid.New(), companyID, models.FinancingUnderReview)

	service := NewService(db, createTestLogger(t))
	_, err = service.UpdateStatus(repContext(companyID), appID, UpdateStatusInput{
		Status: models.FinancingApproved,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized), "got %v", err)
}

func TestUpdateStatus_RejectsNegativeTerms(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	negative := decimal.RequireFromString("-1.00")
	service := NewService(db, createTestLogger(t))
	_, err = service.UpdateStatus(managerContext(uuid.New()), uuid.New(), UpdateStatusInput{
		Status:         models.FinancingApproved,
		ApprovedAmount: &negative,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation), "got %v", err)
}

func TestUpdateStatus_UnknownApplication(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appID := uuid.New()
	mock.ExpectQuery(`FROM financing_applications`).
		WithArgs(appID).
		WillReturnError(sql.ErrNoRows)

	service := NewService(db, createTestLogger(t))
	_, err = service.UpdateStatus(repContext(uuid.New()), appID, UpdateStatusInput{
		Status: models.FinancingSubmitted,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound), "got %v", err)
}

func TestUpdateStatus_CrossCompanyRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appID := uuid.New()
	expectApplicationLoad(mock, appID, uuid.New(), uuid.New(), models.FinancingDraft)

	service := NewService(db, createTestLogger(t))
	_, err = service.UpdateStatus(repContext(uuid.New()), appID, UpdateStatusInput{
		Status: models.FinancingSubmitted,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_DealRefreshRederivesActiveStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appID := uuid.New()
	companyID := uuid.New()

	// Cancelling a superseded application must not blindly stamp "cancelled"
	// on the deal; the refresh re-selects the newest non-terminal application.
	expectApplicationLoad(mock, appID, uuid.New(), companyID, models.FinancingDraft)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE financing_applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO financing_status_history`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE deals SET financing_status = \(\s*SELECT status FROM financing_applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	service := NewService(db, createTestLogger(t))
	updated, err := service.UpdateStatus(repContext(companyID), appID, UpdateStatusInput{
		Status: models.FinancingCancelled,
	})

	require.NoError(t, err)
	assert.Equal(t, models.FinancingCancelled, updated.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// CreateApplication Tests
// ==========================

func TestCreateApplication(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dealID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(`SELECT company_id FROM deals`).
		WithArgs(dealID).
		WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow(companyID))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO financing_applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE deals`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	service := NewService(db, createTestLogger(t))
	app, err := service.CreateApplication(repContext(companyID), dealID, CreateApplicationInput{
		LenderID:    uuid.New(),
		ProductName: "Solar Loan 25yr",
	})

	require.NoError(t, err)
	assert.Equal(t, models.FinancingDraft, app.Status)
	assert.Equal(t, dealID, app.DealID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateApplication_CrossCompanyRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dealID := uuid.New()
	mock.ExpectQuery(`SELECT company_id FROM deals`).
		WithArgs(dealID).
		WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow(uuid.New()))

	service := NewService(db, createTestLogger(t))
	_, err = service.CreateApplication(repContext(uuid.New()), dealID, CreateApplicationInput{
		LenderID:    uuid.New(),
		ProductName: "Solar Loan 25yr",
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized), "got %v", err)
}

func TestCreateApplication_RequiresLender(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db, createTestLogger(t))
	_, err = service.CreateApplication(repContext(uuid.New()), uuid.New(), CreateApplicationInput{
		ProductName: "Solar Loan 25yr",
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation), "got %v", err)
}

// ==========================
// History Tests
// ==========================

func TestHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appID := uuid.New()
	companyID := uuid.New()
	now := time.Now()
	expectApplicationLoad(mock, appID, uuid.New(), companyID, models.FinancingUnderReview)
	mock.ExpectQuery(`FROM financing_status_history`).
		WithArgs(appID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "from_status", "to_status", "notes", "changed_by", "created_at"}).
			AddRow(uuid.New(), appID, "draft", "submitted", "", uuid.New(), now).
			AddRow(uuid.New(), appID, "submitted", "under_review", "lender picked it up", uuid.New(), now.Add(time.Hour)))

	service := NewService(db, createTestLogger(t))
	history, err := service.History(repContext(companyID), appID)

	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.FinancingDraft, history[0].FromStatus)
	assert.Equal(t, models.FinancingUnderReview, history[1].ToStatus)
}

func TestHistory_CrossCompanyRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appID := uuid.New()
	expectApplicationLoad(mock, appID, uuid.New(), uuid.New(), models.FinancingUnderReview)

	service := NewService(db, createTestLogger(t))
	_, err = service.History(repContext(uuid.New()), appID)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
