package registry

import (
	"errors"
	"testing"

	"github.com/jasona/mudforge-sub010/internal/domain/object"
)

func TestRegisterRejectsDuplicatePath(t *testing.T) {
	r := New()
	a := object.New("/std/room", object.KindBlueprint)
	b := object.New("/std/room", object.KindBlueprint)

	if err := r.Register(a); err != nil {
		t.Fatalf("unexpected error registering a: %v", err)
	}
	err := r.Register(b)
	if !errors.Is(err, ErrDuplicatePath) {
		t.Fatalf("expected ErrDuplicatePath, got %v", err)
	}
}

func TestCloneOfNeverReusesIds(t *testing.T) {
	r := New()
	first := r.CloneOf("/std/sword")
	second := r.CloneOf("/std/sword")
	if first == second {
		t.Fatalf("expected distinct clone paths, got %s twice", first)
	}
	if !ValidateClonePath("/std/sword", first) || !ValidateClonePath("/std/sword", second) {
		t.Fatalf("expected well-formed clone paths, got %s, %s", first, second)
	}

	obj := object.New(first, object.KindClone)
	if err := r.Register(obj); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Destruct(obj, DestructionPolicy{}); err != nil {
		t.Fatalf("destruct: %v", err)
	}

	third := r.CloneOf("/std/sword")
	if third == first || third == second {
		t.Fatalf("expected clone id not to be reused after destruction, got %s", third)
	}
}

func TestMoveUpdatesContainmentBothSides(t *testing.T) {
	r := New()
	room := object.New("/room/a", object.KindBlueprint)
	other := object.New("/room/b", object.KindBlueprint)
	item := object.New("/obj/item#0", object.KindClone)

	if err := r.Move(item, room); err != nil {
		t.Fatalf("move into room: %v", err)
	}
	if item.Environment() != room {
		t.Fatalf("expected item environment to be room")
	}
	if len(room.Inventory()) != 1 || room.Inventory()[0] != item {
		t.Fatalf("expected room inventory to contain item")
	}

	if err := r.Move(item, other); err != nil {
		t.Fatalf("move into other: %v", err)
	}
	if len(room.Inventory()) != 0 {
		t.Fatalf("expected item removed from previous environment's inventory")
	}
	if item.Environment() != other {
		t.Fatalf("expected item environment to be other")
	}
}

func TestMoveIsIdempotent(t *testing.T) {
	r := New()
	room := object.New("/room/a", object.KindBlueprint)
	item := object.New("/obj/item#0", object.KindClone)

	if err := r.Move(item, room); err != nil {
		t.Fatalf("first move: %v", err)
	}
	if err := r.Move(item, room); err != nil {
		t.Fatalf("second move: %v", err)
	}
	if len(room.Inventory()) != 1 {
		t.Fatalf("expected move(O,E);move(O,E) to be equivalent to one move, got inventory size %d", len(room.Inventory()))
	}
}

func TestMoveRejectsContainmentCycle(t *testing.T) {
	r := New()
	room := object.New("/room/a", object.KindBlueprint)
	table := object.New("/obj/table#0", object.KindClone)

	if err := r.Move(table, room); err != nil {
		t.Fatalf("move table into room: %v", err)
	}

	err := r.Move(room, table)
	if !errors.Is(err, ErrContainmentCycle) {
		t.Fatalf("expected ErrContainmentCycle, got %v", err)
	}
	if table.Environment() != room {
		t.Fatalf("expected room's environment to be unchanged after rejected move")
	}
}

func TestDestructRemovesFromInventoryAndIndex(t *testing.T) {
	r := New()
	room := object.New("/room/a", object.KindBlueprint)
	item := object.New("/obj/item#0", object.KindClone)
	if err := r.Register(room); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(item); err != nil {
		t.Fatal(err)
	}
	if err := r.Move(item, room); err != nil {
		t.Fatal(err)
	}

	if err := r.Destruct(item, DestructionPolicy{}); err != nil {
		t.Fatalf("destruct: %v", err)
	}

	if !item.Destructed() {
		t.Fatal("expected item to be destructed")
	}
	if len(room.Inventory()) != 0 {
		t.Fatal("expected destructed item removed from room inventory")
	}
	if _, ok := r.Find(item.Path()); ok {
		t.Fatal("expected destructed item not to appear in Find")
	}
	for _, o := range r.AllObjects() {
		if o == item {
			t.Fatal("expected destructed item not to appear in AllObjects")
		}
	}
}

func TestDestructCascadesOwnedContentsAndSpillsOthers(t *testing.T) {
	r := New()
	room := object.New("/room/a", object.KindBlueprint)
	bag := object.New("/obj/bag#0", object.KindClone)
	coin := object.New("/obj/coin#0", object.KindClone)      // owned: destroyed with the bag
	player := object.New("/obj/player#0", object.KindClone) // not owned: spills to room

	for _, o := range []*object.Object{room, bag, coin, player} {
		if err := r.Register(o); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Move(bag, room); err != nil {
		t.Fatal(err)
	}
	if err := r.Move(coin, bag); err != nil {
		t.Fatal(err)
	}
	if err := r.Move(player, bag); err != nil {
		t.Fatal(err)
	}

	owned := map[*object.Object]bool{coin: true}
	policy := DestructionPolicy{IsOwned: func(c *object.Object) bool { return owned[c] }}

	if err := r.Destruct(bag, policy); err != nil {
		t.Fatalf("destruct: %v", err)
	}

	if !coin.Destructed() {
		t.Fatal("expected owned coin to be cascade-destructed")
	}
	if player.Destructed() {
		t.Fatal("expected unowned player to survive, spilled to environment")
	}
	if player.Environment() != room {
		t.Fatalf("expected player spilled into room, got %v", player.Environment())
	}
}

func TestDestructIsIdempotent(t *testing.T) {
	r := New()
	item := object.New("/obj/item#0", object.KindClone)
	if err := r.Register(item); err != nil {
		t.Fatal(err)
	}
	if err := r.Destruct(item, DestructionPolicy{}); err != nil {
		t.Fatalf("first destruct: %v", err)
	}
	if err := r.Destruct(item, DestructionPolicy{}); err != nil {
		t.Fatalf("second destruct should be a no-op, got: %v", err)
	}
}

func TestLargestInventoriesBoundedTopN(t *testing.T) {
	r := New()
	room := object.New("/room/a", object.KindBlueprint)
	if err := r.Register(room); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		item := object.New(r.CloneOf("/obj/item"), object.KindClone)
		if err := r.Register(item); err != nil {
			t.Fatal(err)
		}
		if err := r.Move(item, room); err != nil {
			t.Fatal(err)
		}
	}

	top := r.LargestInventories(1)
	if len(top) != 1 || top[0] != room {
		t.Fatalf("expected room to be the single largest inventory, got %v", top)
	}
}
