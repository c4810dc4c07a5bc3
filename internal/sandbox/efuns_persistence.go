package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"

	"github.com/jasona/mudforge-sub010/internal/domain/player"
	"github.com/jasona/mudforge-sub010/internal/domain/worldsnapshot"
)

// installPersistenceEfuns wires the persistence efun category: player save
// records, the world snapshot, and namespaced generic key/value data, per
// spec section 4.5. All calls use a short background context since efuns
// run inside the sandbox's own timeout budget, not the caller's.
func (b *Bridge) installPersistenceEfuns(rt *goja.Runtime, efuns *goja.Object) error {
	ctx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 2*time.Second)
	}

	if err := efuns.Set("savePlayer", func(call goja.FunctionCall) goja.Value {
		name, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("savePlayer: name required"))
		}
		rec, ok := argMap(call, 1)
		if !ok {
			return resultValue(rt, Fail("savePlayer: record required"))
		}
		if b.adapter == nil {
			return resultValue(rt, Fail("savePlayer: persistence unavailable"))
		}
		save := player.SaveRecord{Name: name, SavedAt: time.Now().UTC()}
		if v, ok := rec["location_path"].(string); ok {
			save.LocationPath = v
		}
		if v, ok := rec["blueprint_path"].(string); ok {
			save.BlueprintPath = v
		}
		if v, ok := rec["properties"].(map[string]any); ok {
			save.Properties = v
		}
		c, cancel := ctx()
		defer cancel()
		if err := b.adapter.SavePlayer(c, save); err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(nil))
	}); err != nil {
		return err
	}

	if err := efuns.Set("loadPlayer", func(call goja.FunctionCall) goja.Value {
		name, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("loadPlayer: name required"))
		}
		if b.adapter == nil {
			return resultValue(rt, Fail("loadPlayer: persistence unavailable"))
		}
		c, cancel := ctx()
		defer cancel()
		rec, err := b.adapter.LoadPlayer(c, name)
		if err != nil {
			return resultValue(rt, FailErr(err))
		}
		if rec == nil {
			return goja.Null()
		}
		return resultValue(rt, Ok(map[string]any{
			"name":           rec.Name,
			"location_path":  rec.LocationPath,
			"blueprint_path": rec.BlueprintPath,
			"properties":     rec.Properties,
			"saved_at":       rec.SavedAt,
		}))
	}); err != nil {
		return err
	}

	if err := efuns.Set("playerExists", func(call goja.FunctionCall) goja.Value {
		name, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("playerExists: name required"))
		}
		if b.adapter == nil {
			return resultValue(rt, Fail("playerExists: persistence unavailable"))
		}
		c, cancel := ctx()
		defer cancel()
		exists, err := b.adapter.PlayerExists(c, name)
		if err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(exists))
	}); err != nil {
		return err
	}

	if err := efuns.Set("listPlayers", func(call goja.FunctionCall) goja.Value {
		if b.adapter == nil {
			return resultValue(rt, Fail("listPlayers: persistence unavailable"))
		}
		c, cancel := ctx()
		defer cancel()
		names, err := b.adapter.ListPlayers(c)
		if err != nil {
			return resultValue(rt, FailErr(err))
		}
		out := make([]any, len(names))
		for i, n := range names {
			out[i] = n
		}
		return resultValue(rt, Ok(out))
	}); err != nil {
		return err
	}

	if err := efuns.Set("saveWorldState", func(call goja.FunctionCall) goja.Value {
		m, ok := argMap(call, 0)
		if !ok {
			return resultValue(rt, Fail("saveWorldState: manifest required"))
		}
		if b.adapter == nil {
			return resultValue(rt, Fail("saveWorldState: persistence unavailable"))
		}
		snap := worldsnapshot.Snapshot{Version: 1, Timestamp: time.Now().UTC()}
		if records, ok := m["object_manifest"].([]any); ok {
			for _, r := range records {
				rm, ok := r.(map[string]any)
				if !ok {
					continue
				}
				rec := worldsnapshot.ObjectRecord{}
				rec.Path, _ = rm["path"].(string)
				rec.BlueprintPath, _ = rm["blueprint_path"].(string)
				if props, ok := rm["properties"].(map[string]any); ok {
					rec.Properties = props
				}
				snap.Objects = append(snap.Objects, rec)
			}
		}
		c, cancel := ctx()
		defer cancel()
		if err := b.adapter.SaveWorldState(c, snap); err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(nil))
	}); err != nil {
		return err
	}

	if err := efuns.Set("loadWorldState", func(call goja.FunctionCall) goja.Value {
		if b.adapter == nil {
			return resultValue(rt, Fail("loadWorldState: persistence unavailable"))
		}
		c, cancel := ctx()
		defer cancel()
		snap, err := b.adapter.LoadWorldState(c)
		if err != nil {
			return resultValue(rt, FailErr(err))
		}
		if snap == nil {
			return goja.Null()
		}
		records := make([]any, len(snap.Objects))
		for i, rec := range snap.Objects {
			records[i] = map[string]any{
				"path":           rec.Path,
				"blueprint_path": rec.BlueprintPath,
				"properties":     rec.Properties,
			}
		}
		return resultValue(rt, Ok(map[string]any{
			"version":         snap.Version,
			"object_manifest": records,
			"timestamp":       snap.Timestamp,
		}))
	}); err != nil {
		return err
	}

	if err := efuns.Set("saveData", func(call goja.FunctionCall) goja.Value {
		ns, okNS := argString(call, 0)
		key, okKey := argString(call, 1)
		if !okNS || !okKey {
			return resultValue(rt, Fail("saveData: namespace and key required"))
		}
		value := call.Argument(2).Export()
		if b.adapter == nil {
			return resultValue(rt, Fail("saveData: persistence unavailable"))
		}
		c, cancel := ctx()
		defer cancel()
		if err := b.adapter.SaveData(c, ns, key, value); err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(nil))
	}); err != nil {
		return err
	}

	if err := efuns.Set("loadData", func(call goja.FunctionCall) goja.Value {
		ns, okNS := argString(call, 0)
		key, okKey := argString(call, 1)
		if !okNS || !okKey {
			return resultValue(rt, Fail("loadData: namespace and key required"))
		}
		if b.adapter == nil {
			return resultValue(rt, Fail("loadData: persistence unavailable"))
		}
		c, cancel := ctx()
		defer cancel()
		value, err := b.adapter.LoadData(c, ns, key)
		if err != nil {
			return resultValue(rt, FailErr(err))
		}
		if value == nil {
			return goja.Null()
		}
		return resultValue(rt, Ok(value))
	}); err != nil {
		return err
	}

	if err := efuns.Set("dataExists", func(call goja.FunctionCall) goja.Value {
		ns, okNS := argString(call, 0)
		key, okKey := argString(call, 1)
		if !okNS || !okKey {
			return resultValue(rt, Fail("dataExists: namespace and key required"))
		}
		if b.adapter == nil {
			return resultValue(rt, Fail("dataExists: persistence unavailable"))
		}
		c, cancel := ctx()
		defer cancel()
		exists, err := b.adapter.DataExists(c, ns, key)
		if err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(exists))
	}); err != nil {
		return err
	}

	if err := efuns.Set("deleteData", func(call goja.FunctionCall) goja.Value {
		ns, okNS := argString(call, 0)
		key, okKey := argString(call, 1)
		if !okNS || !okKey {
			return resultValue(rt, Fail("deleteData: namespace and key required"))
		}
		if b.adapter == nil {
			return resultValue(rt, Fail("deleteData: persistence unavailable"))
		}
		c, cancel := ctx()
		defer cancel()
		if err := b.adapter.DeleteData(c, ns, key); err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(nil))
	}); err != nil {
		return err
	}

	return efuns.Set("listDataKeys", func(call goja.FunctionCall) goja.Value {
		ns, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("listDataKeys: namespace required"))
		}
		if b.adapter == nil {
			return resultValue(rt, Fail("listDataKeys: persistence unavailable"))
		}
		c, cancel := ctx()
		defer cancel()
		keys, err := b.adapter.ListKeys(c, ns)
		if err != nil {
			return resultValue(rt, FailErr(err))
		}
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return resultValue(rt, Ok(out))
	})
}
