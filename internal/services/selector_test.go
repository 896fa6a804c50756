package services

import (
	"context"
	"errors"
	"testing"

	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/panel"
)

func TestPickFromChoosesMostFree(t *testing.T) {
	// Сервер 1: 10 слотов, 8 занято (2 свободно).
	// Сервер 2: 10 слотов, 3 занято (7 свободно) — должен победить.
	fp1 := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(8)})
	fp2 := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(3)})
	servers := []db.Server{fp1.server(1, 10, "1"), fp2.server(2, 10, "1")}

	s := NewSelector(panel.New())
	got, err := s.PickFrom(context.Background(), servers, 0)
	if err != nil {
		t.Fatalf("PickFrom: %v", err)
	}
	if got != 2 {
		t.Errorf("picked server %d, want 2 (наибольшее число свободных мест)", got)
	}
}

func TestPickFromTieBreakIsFirstInList(t *testing.T) {
	fp1 := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(5)})
	fp2 := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(5)})
	servers := []db.Server{fp1.server(3, 10, "1"), fp2.server(4, 10, "1")}

	s := NewSelector(panel.New())
	got, err := s.PickFrom(context.Background(), servers, 0)
	if err != nil {
		t.Fatalf("PickFrom: %v", err)
	}
	if got != 3 {
		t.Errorf("picked server %d, want 3 (при равенстве — более ранний в списке)", got)
	}
}

func TestPickFromAllFull(t *testing.T) {
	fp := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(5)})
	servers := []db.Server{fp.server(1, 5, "1")}

	s := NewSelector(panel.New())
	_, err := s.PickFrom(context.Background(), servers, 0)
	if !errors.Is(err, ErrAllFull) {
		t.Errorf("err = %v, want ErrAllFull", err)
	}
}

func TestPickFromUnreachableServerIsSkipped(t *testing.T) {
	// Пустой сервер недоступен, полупустой работает: выбор падает на
	// рабочий, отказ зонда не превращается в ошибку всей операции.
	down := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(0)})
	down.loginFail = true
	up := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(9)})
	servers := []db.Server{down.server(1, 10, "1"), up.server(2, 10, "1")}

	s := NewSelector(panel.New())
	got, err := s.PickFrom(context.Background(), servers, 0)
	if err != nil {
		t.Fatalf("PickFrom: %v", err)
	}
	if got != 2 {
		t.Errorf("picked server %d, want 2 (недоступный сервер выбывает)", got)
	}
}

func TestPickFromAllUnreachable(t *testing.T) {
	fp := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(0)})
	fp.loginFail = true
	servers := []db.Server{fp.server(1, 10, "1")}

	s := NewSelector(panel.New())
	_, err := s.PickFrom(context.Background(), servers, 0)
	if !errors.Is(err, ErrAllFull) {
		t.Errorf("err = %v, want ErrAllFull когда все сервера недоступны", err)
	}
}

func TestPickFromExclude(t *testing.T) {
	fp1 := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(0)})
	fp2 := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(3)})
	servers := []db.Server{fp1.server(1, 10, "1"), fp2.server(2, 10, "1")}

	s := NewSelector(panel.New())
	got, err := s.PickFrom(context.Background(), servers, 1)
	if err != nil {
		t.Fatalf("PickFrom: %v", err)
	}
	if got != 2 {
		t.Errorf("picked server %d, want 2 (сервер 1 исключён)", got)
	}
}

func TestPickFromExcludeOnlyCandidate(t *testing.T) {
	fp := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(0)})
	servers := []db.Server{fp.server(1, 10, "1")}

	s := NewSelector(panel.New())
	_, err := s.PickFrom(context.Background(), servers, 1)
	if !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("err = %v, want ErrGroupNotFound при пустом списке кандидатов", err)
	}
}

func TestPickFromServerWithoutInbounds(t *testing.T) {
	fp := newFakePanel(t, map[int][]panel.ClientCredential{})
	servers := []db.Server{fp.server(1, 10, "")}

	s := NewSelector(panel.New())
	_, err := s.PickFrom(context.Background(), servers, 0)
	if !errors.Is(err, ErrAllFull) {
		t.Errorf("err = %v, want ErrAllFull: сервер без inbound не пригоден", err)
	}
}

func TestPickFromOverbookedServer(t *testing.T) {
	// Занято больше, чем слотов: свободных мест 0, а не отрицательное число.
	fp := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(7)})
	servers := []db.Server{fp.server(1, 5, "1")}

	s := NewSelector(panel.New())
	_, err := s.PickFrom(context.Background(), servers, 0)
	if !errors.Is(err, ErrAllFull) {
		t.Errorf("err = %v, want ErrAllFull для переполненного сервера", err)
	}
}
