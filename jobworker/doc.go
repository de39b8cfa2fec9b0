/*
Package jobworker executes the jobs of a layersync.Store.

# Overview

A Pool runs worker threads. Every worker owns one database connection
and pops jobs from the Store until the Store is quit:

	pool := jobworker.NewPool(store, jobworker.Options{
		Layers:                cfg.Layers,
		ConnectURL:            cfg.Database.ConnectURL(),
		PersistentConnections: true,
	})
	err := pool.StartThreads(ctx, 4)
	if err != nil {
		return err
	}
	...
	store.Quit()
	err = pool.FinishThreads()

Before a job is executed the worker restores its database connection,
retrying every Options.ReconnectInterval. Workers without
persistent connections close their connection while waiting for jobs.

# Pull Jobs

A pull job opens the source layer of the configured layer,
applies the layer filter and the job filter combined with AND,
and inserts all features into a temporary copy of the target table.
Source fields are matched case-insensitively with the target columns.
The temporary table is then merged into the target table
within the same transaction:

 1. Rows with a primary key found in both tables
    are updated if any column differs
 2. Rows only found in the temporary table are inserted
 3. Rows only found in the target table are deleted,
    if the layer allows feature deletion and no filter was used

Layers in bulk mode replace all rows of the target table instead.
Replacing deletes rows, so filtered pulls and layers without
feature deletion are merged as described above even in bulk mode.

Errors reading the source fail the job like precondition failures,
they never end the worker.

With ignore_failures every feature is inserted within a savepoint
and features failing with a data exception are counted as ignored.

# Geometries

The target table can have at most one geometry column.
Incoming geometries are converted depending on the SRID
registered for the column in geometry_columns:
no entry passes geometries through, an undefined SRID
is assigned as is, and a concrete SRID is assigned to geometries
with undefined SRID while all others are transformed to it.

# RemoveByAttributes Jobs

Deletes all target rows matching any of the attribute sets of the job.
A nil value of an attribute set matches NULL.

# Errors

Database errors and violated preconditions fail the job.
Any other error, including panics, fails the job and ends the worker thread.
*/
package jobworker
