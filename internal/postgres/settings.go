package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/deadmade/isopruefi-ingest/internal/model"
)

// SettingsRepo reads the topic settings that drive the MQTT subscriptions.
type SettingsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSettingsRepo(db *sql.DB, logger *zap.Logger) *SettingsRepo {
	return &SettingsRepo{db: db, logger: logger}
}

// GetTopicSettings returns every configured sensor feed.
func (r *SettingsRepo) GetTopicSettings(ctx context.Context) ([]model.TopicSetting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, group_id, sensor_type, sensor_name, sensor_location, default_topic_path, has_recovery
		FROM topic_settings`)
	if err != nil {
		return nil, fmt.Errorf("query topic settings: %w", err)
	}
	defer rows.Close()

	var settings []model.TopicSetting
	for rows.Next() {
		var s model.TopicSetting
		if err := rows.Scan(&s.ID, &s.GroupID, &s.SensorType, &s.SensorName,
			&s.SensorLocation, &s.DefaultTopicPath, &s.HasRecovery); err != nil {
			return nil, fmt.Errorf("scan topic setting: %w", err)
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic settings: %w", err)
	}
	return settings, nil
}
