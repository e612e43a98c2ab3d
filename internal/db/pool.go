package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		sub TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL CHECK (role IN ('admin', 'instructor', 'student'))
	)`,
	`CREATE TABLE IF NOT EXISTS courses (
		id BIGSERIAL PRIMARY KEY,
		subject TEXT NOT NULL,
		number TEXT NOT NULL,
		title TEXT NOT NULL,
		term TEXT NOT NULL,
		instructor_id BIGINT NOT NULL REFERENCES users (id)
	)`,
	`CREATE INDEX IF NOT EXISTS courses_subject_idx ON courses (subject, id)`,
	`CREATE INDEX IF NOT EXISTS courses_instructor_idx ON courses (instructor_id)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		id UUID PRIMARY KEY,
		course_id BIGINT NOT NULL REFERENCES courses (id),
		student_id BIGINT NOT NULL REFERENCES users (id),
		UNIQUE (course_id, student_id)
	)`,
	`CREATE INDEX IF NOT EXISTS enrollments_student_idx ON enrollments (student_id)`,
}

// Migrate creates the schema when it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
