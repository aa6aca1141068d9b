package domain

import "errors"

var (
	// ErrEmptyQuestionBank is returned when no usable question was loaded.
	ErrEmptyQuestionBank = errors.New("question bank is empty")
	// ErrInsufficientParticipants is returned when a multiplayer game starts with fewer than two players.
	ErrInsufficientParticipants = errors.New("at least two participants are required")
	// ErrConnectionRejected is reported to a joining client the host turned away.
	ErrConnectionRejected = errors.New("connection rejected by host")
	// ErrRoomFull indicates the room reached its participant cap.
	ErrRoomFull = errors.New("room is full")
	// ErrGameStarted indicates the room no longer accepts joins.
	ErrGameStarted = errors.New("game already started")
	// ErrGameNotStarted is returned for game operations issued before start.
	ErrGameNotStarted = errors.New("game not started")
	// ErrGameFinished is returned for game operations issued after the end.
	ErrGameFinished = errors.New("game finished")
	// ErrParticipantNotFound is returned for unknown participant ids.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrQuestionNotFound indicates the question is not the one being asked.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNotHolder indicates the participant is not expected to answer the current question.
	ErrNotHolder = errors.New("participant does not hold the current question")
	// ErrRoomNotFound is returned when a room code cannot be resolved.
	ErrRoomNotFound = errors.New("room not found")
	// ErrHostLost ends a client game when the host connection drops.
	ErrHostLost = errors.New("connection to host lost")
)
