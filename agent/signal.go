//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
	"fmt"
	"time"
)

// taskStoppedTTL is the lifetime of the stop flag.
const taskStoppedTTL = 600 * time.Second

// taskBelongKey is the store key recording which caller owns a task.
func taskBelongKey(taskID string) string {
	return fmt.Sprintf("generate_task_belong:%s", taskID)
}

// taskStoppedKey is the store key flagging a task as stopped.
func taskStoppedKey(taskID string) string {
	return fmt.Sprintf("generate_task_stopped:%s", taskID)
}

// ownerValue encodes a caller identity. Debugger and web-app calls act as
// the account itself; everything else is an end user.
func ownerValue(invokeFrom InvokeFrom, userID string) string {
	if invokeFrom == InvokeFromDebugger || invokeFrom == InvokeFromWebApp {
		return "account-" + userID
	}
	return "end-user-" + userID
}

// SetStopFlag requests that a running task stop. The request is honored only
// when the caller identity matches the task's recorded owner; otherwise it is
// silently ignored. The running task observes the flag on its next poll
// cycle.
func SetStopFlag(ctx context.Context, store KeyValueStore, taskID string, invokeFrom InvokeFrom, userID string) error {
	owner, err := store.Get(ctx, taskBelongKey(taskID))
	if err != nil {
		return err
	}
	if owner == "" || owner != ownerValue(invokeFrom, userID) {
		return nil
	}
	return store.SetEx(ctx, taskStoppedKey(taskID), "1", taskStoppedTTL)
}
