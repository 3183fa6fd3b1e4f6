package store

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/charterworks/charterd/pkg/models"
)

// newTestStore opens an in-memory SQLite database with the session schema
// migrated. Each call gets an isolated database.
func newTestStore(t *testing.T) *SessionStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// A pooled second connection to :memory: would see an empty database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Session{},
		&models.StageDataRow{},
		&models.ConversationTurn{},
		&models.Checkpoint{},
		&models.CharterRow{},
		&models.ConsistencyReportRow{},
	))

	return NewSessionStore(db)
}

// stage1Deliverable builds a valid problem statement for tests.
func stage1Deliverable() *models.StageDeliverable {
	return &models.StageDeliverable{
		Stage: 1,
		Problem: &models.ProblemStatement{
			BusinessObjective:        "reduce monthly churn from 5.2% to 3.5% within 6 months",
			AINecessityJustification: "static rules plateaued at 60% recall",
			InputFeatures:            []string{"tenure", "support_tickets"},
			TargetOutput:             "churn probability per customer",
			MLArchetype:              models.ArchetypeClassification,
			OutOfScope:               "pricing changes",
			Constraints:              "daily batch scoring by 06:00 UTC",
		},
		FieldScores: map[string]int{"business_objective": 9},
	}
}

func stage2Deliverable() *models.StageDeliverable {
	return &models.StageDeliverable{
		Stage: 2,
		Metrics: &models.MetricAlignment{
			BusinessKPIs: []models.BusinessKPI{
				{Name: "monthly_churn", Baseline: "5.2%", Target: "3.5%", Cadence: "monthly"},
			},
			MLMetrics: []models.MLMetric{
				{Name: "recall", AcceptableRange: "0.75-1.0"},
				{Name: "precision", AcceptableRange: "0.6-1.0"},
			},
			Alignments: []models.MetricLink{
				{MLMetric: "recall", KPIs: []string{"monthly_churn"}},
				{MLMetric: "precision", KPIs: []string{"monthly_churn"}},
			},
			Tradeoffs: "precision sacrificed for recall on the retention team's request",
		},
	}
}

func passingValidation() *models.StageValidation {
	return &models.StageValidation{CanProceed: true, Completeness: 1.0}
}
