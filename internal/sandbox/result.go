package sandbox

// Result is the efun result record contract from spec section 4.2:
// {success, value|error}. Grounded on the teacher's
// function.ActionResult{Action, Status, Result, Error} shape
// (internal/app/domain/function/execution.go), narrowed to the two fields
// every efun actually needs to report.
type Result struct {
	Success bool   `json:"success"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ok wraps a successful efun return value.
func Ok(value any) Result {
	return Result{Success: true, Value: value}
}

// Fail wraps an efun failure reason.
func Fail(reason string) Result {
	return Result{Success: false, Error: reason}
}

// FailErr wraps a Go error as an efun failure.
func FailErr(err error) Result {
	if err == nil {
		return Ok(nil)
	}
	return Result{Success: false, Error: err.Error()}
}

// toMap converts a Result to the plain map goja exports to script code as
// {success, value, error} — a goja.Runtime.ToValue(map[string]any{...}) call
// produces a native JS object rather than a wrapped Go struct.
func (r Result) toMap() map[string]any {
	out := map[string]any{"success": r.Success}
	if r.Success {
		out["value"] = r.Value
	} else {
		out["error"] = r.Error
	}
	return out
}
