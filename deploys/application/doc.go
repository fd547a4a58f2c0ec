// Package application contém os casos de uso da alocação de slots:
// reservar, liberar, resetar e consultar o pool.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Allocator.ReserveNext(ctx, branch) retorna uma Reservation (target/ok).
package application
